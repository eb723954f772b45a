package usecase

import (
	"context"
	"testing"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type webhookFixture struct {
	*purchaseFixture
	webhookRepo *WebhookEventRepoMock
	uc          *WebhookUsecase
}

func newWebhookFixture() *webhookFixture {
	pf := newPurchaseFixture()
	f := &webhookFixture{
		purchaseFixture: pf,
		webhookRepo:     new(WebhookEventRepoMock),
	}
	f.tx.Repos = &TxReposMock{
		purchases:     f.purchaseRepo,
		escrowOrders:  f.escrowRepo,
		notifications: f.notifRepo,
		webhookEvents: f.webhookRepo,
	}
	f.uc = NewWebhookUsecase(f.tx, pf.uc, pf.escrowUsecase, f.clock, 14*24*time.Hour)
	return f
}

func paymentEvent() PaymentSucceededInput {
	return PaymentSucceededInput{
		EventID:         "evt_1",
		PurchaseID:      1,
		PaymentIntentID: "pi_1",
		ChargeID:        "ch_1",
		ItemPrice:       250000,
		ShippingCost:    0,
		PlatformFee:     13000,
		ProtectionFee:   2000,
		TotalAmount:     265000,
	}
}

func TestWebhookUsecase_HandlePaymentSucceeded_CreatesPaidOrder(t *testing.T) {
	f := newWebhookFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	f.webhookRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)

	// 1回目：注文なし → 作成。2回目（キャッシュ更新tx）：作成済みの注文が見える。
	created := model.EscrowOrder{}
	f.escrowRepo.On("FindByPurchaseID", mock.Anything, int64(1)).
		Return(model.EscrowOrder{}, false, nil).Once()
	f.escrowRepo.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { created = args.Get(1).(model.EscrowOrder) }).
		Return(int64(5), nil)
	f.escrowRepo.On("FindByPurchaseID", mock.Anything, int64(1)).
		Return(model.EscrowOrder{ID: 5, PurchaseID: 1, PaymentStatus: model.EscrowStatusPaid}, true, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).
		Return(model.EscrowOrder{ID: 5, PurchaseID: 1, PaymentStatus: model.EscrowStatusPaid}, nil)
	f.purchaseRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	err := f.uc.HandlePaymentSucceeded(context.Background(), paymentEvent())
	assert.NoError(t, err)

	assert.Equal(t, model.EscrowStatusPaid, created.PaymentStatus)
	assert.Equal(t, int64(20), created.SellerID)
	assert.Equal(t, "ch_1", created.ChargeID)
	if assert.NotNil(t, created.AutoReleaseAt) {
		assert.Equal(t, testNow.Add(14*24*time.Hour), *created.AutoReleaseAt)
	}
	// キャッシュ更新（別トランザクション）まで走る
	f.purchaseRepo.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

// 同じevent_idの再配信は一切適用しない。
func TestWebhookUsecase_HandlePaymentSucceeded_DuplicateEvent(t *testing.T) {
	f := newWebhookFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.webhookRepo.On("Insert", mock.Anything, mock.Anything).Return(repo.ErrDuplicate)

	err := f.uc.HandlePaymentSucceeded(context.Background(), paymentEvent())
	assert.NoError(t, err)
	f.purchaseRepo.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything)
	f.escrowRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.purchaseRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// イベントの順序入れ替わりで注文が既にあるとき、二重作成しない。
func TestWebhookUsecase_HandlePaymentSucceeded_OrderAlreadyExists(t *testing.T) {
	f := newWebhookFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.webhookRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	existing := model.EscrowOrder{ID: 5, PurchaseID: 1, PaymentStatus: model.EscrowStatusPaid}
	f.escrowRepo.On("FindByPurchaseID", mock.Anything, int64(1)).Return(existing, true, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(existing, nil)
	f.purchaseRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	err := f.uc.HandlePaymentSucceeded(context.Background(), paymentEvent())
	assert.NoError(t, err)
	f.escrowRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWebhookUsecase_HandleOnboardingStatusChanged_NotEnabledIsNoOp(t *testing.T) {
	f := newWebhookFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.webhookRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err := f.uc.HandleOnboardingStatusChanged(context.Background(), OnboardingStatusChangedInput{
		EventID: "evt_2", SellerID: 20, PayoutsEnabled: false,
	})
	assert.NoError(t, err)
	f.escrowRepo.AssertNotCalled(t, "ListPendingOnboardingIDs", mock.Anything, mock.Anything)
}

func TestWebhookUsecase_HandleOnboardingStatusChanged_TriggersRetry(t *testing.T) {
	f := newWebhookFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.webhookRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.escrowRepo.On("ListPendingOnboardingIDs", mock.Anything, int64(20)).Return([]int64{}, nil)

	err := f.uc.HandleOnboardingStatusChanged(context.Background(), OnboardingStatusChangedInput{
		EventID: "evt_3", SellerID: 20, PayoutsEnabled: true,
	})
	assert.NoError(t, err)
	f.escrowRepo.AssertExpectations(t)
}

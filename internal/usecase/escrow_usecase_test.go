package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type escrowFixture struct {
	tx           *TxManagerMock
	purchaseRepo *PurchaseRepoMock
	escrowRepo   *EscrowOrderRepoMock
	audit        *AuditRepoMock
	gw           *GatewayMock
	onboarding   *OnboardingMock
	notif        *NotifierMock
	uc           *EscrowUsecase
}

func newEscrowFixture() *escrowFixture {
	f := &escrowFixture{
		tx:           new(TxManagerMock),
		purchaseRepo: new(PurchaseRepoMock),
		escrowRepo:   new(EscrowOrderRepoMock),
		audit:        new(AuditRepoMock),
		gw:           new(GatewayMock),
		onboarding:   new(OnboardingMock),
		notif:        new(NotifierMock),
	}
	f.tx.Repos = &TxReposMock{
		purchases:    f.purchaseRepo,
		escrowOrders: f.escrowRepo,
	}
	f.uc = NewEscrowUsecase(f.tx, f.gw, f.onboarding, f.audit, f.notif, &fixedClock{t: testNow})
	return f
}

func paidOrder() model.EscrowOrder {
	paidAt := testNow.Add(-24 * time.Hour)
	return model.EscrowOrder{
		ID: 5, PurchaseID: 1, SellerID: 20,
		ItemPrice: 250000, PlatformFee: 13000, ProtectionFee: 2000, TotalAmount: 265000,
		PaymentStatus: model.EscrowStatusPaid,
		ChargeID:      "ch_1", PaidAt: &paidAt,
	}
}

func TestEscrowUsecase_Release_Success(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	var transfer gateway.TransferInput
	f.gw.On("CreateTransfer", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { transfer = args.Get(1).(gateway.TransferInput) }).
		Return(gateway.TransferResult{TransferID: "tr_1"}, nil)

	var saved model.EscrowOrder
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(model.EscrowOrder) }).
		Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsReleased", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.Release(context.Background(), 1, 5, "手動release")
	assert.NoError(t, err)
	assert.Equal(t, int64(250000), transfer.Amount)
	assert.Equal(t, "escrow-order:5:release", transfer.IdempotencyKey)
	assert.Equal(t, model.EscrowStatusReleased, saved.PaymentStatus)
	assert.NotNil(t, saved.ReleasedAt)
	f.audit.AssertExpectations(t)
}

// releasedからの再releaseは失敗し、2度目の送金は起きない。
func TestEscrowUsecase_Release_AlreadyReleased(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	o.PaymentStatus = model.EscrowStatusReleased
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Return(model.Purchase{ID: 1, BuyerID: 10, SellerID: 20}, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	err := f.uc.Release(context.Background(), 1, 5, "")
	var invalid *InvalidEscrowTransitionError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, model.EscrowStatusReleased, invalid.Status)
	f.gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
	f.escrowRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEscrowUsecase_Release_FromCreatedFails(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	o.PaymentStatus = model.EscrowStatusCreated
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Return(model.Purchase{ID: 1, BuyerID: 10, SellerID: 20}, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	err := f.uc.Release(context.Background(), 1, 5, "")
	var invalid *InvalidEscrowTransitionError
	assert.True(t, errors.As(err, &invalid))
	f.gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
}

// ゲートウェイが落ちたら状態は進まない（楽観的にreleasedにしない）。
func TestEscrowUsecase_Release_GatewayFailureKeepsStatus(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)
	f.gw.On("CreateTransfer", mock.Anything, mock.Anything).
		Return(gateway.TransferResult{}, errors.New("gateway timeout"))

	err := f.uc.Release(context.Background(), 1, 5, "")
	var gwErr *ExternalGatewayError
	assert.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "release", gwErr.Op)
	f.escrowRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.notif.AssertNotCalled(t, "FundsReleased", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowUsecase_Hold_OnlyFromPaid(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	var saved model.EscrowOrder
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(model.EscrowOrder) }).
		Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	err := f.uc.Hold(context.Background(), 1, 5, "不審な取引の調査中")
	assert.NoError(t, err)
	assert.Equal(t, model.EscrowStatusOnHold, saved.PaymentStatus)
	assert.Equal(t, "不審な取引の調査中", saved.HoldReason)
}

func TestEscrowUsecase_Hold_RequiresReason(t *testing.T) {
	f := newEscrowFixture()
	err := f.uc.Hold(context.Background(), 1, 5, "  ")
	assertErrContains(t, err, "reason required")
}

func TestEscrowUsecase_Hold_FromPendingOnboardingFails(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	o.PaymentStatus = model.EscrowStatusPendingOnboarding
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	err := f.uc.Hold(context.Background(), 1, 5, "reason")
	var invalid *InvalidEscrowTransitionError
	assert.True(t, errors.As(err, &invalid))
}

func TestEscrowUsecase_Refund_FromOnHold(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	o.PaymentStatus = model.EscrowStatusOnHold
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	var refund gateway.RefundInput
	f.gw.On("CreateRefund", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { refund = args.Get(1).(gateway.RefundInput) }).
		Return(gateway.RefundResult{RefundID: "re_1"}, nil)

	var saved model.EscrowOrder
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(1).(model.EscrowOrder) }).
		Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsRefunded", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.Refund(context.Background(), 1, 5, "買い手への返金")
	assert.NoError(t, err)
	assert.Equal(t, "ch_1", refund.ChargeID)
	assert.Equal(t, int64(265000), refund.Amount)
	assert.Equal(t, "escrow-order:5:refund", refund.IdempotencyKey)
	assert.Equal(t, model.EscrowStatusRefunded, saved.PaymentStatus)
}

func TestEscrowUsecase_Refund_FromReleasedFails(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	o.PaymentStatus = model.EscrowStatusReleased
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Return(model.Purchase{ID: 1, BuyerID: 10, SellerID: 20}, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	err := f.uc.Refund(context.Background(), 1, 5, "")
	var invalid *InvalidEscrowTransitionError
	assert.True(t, errors.As(err, &invalid))
	f.gw.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
}

// 異議申し立て中の自動releaseは凍結される。
func TestEscrowUsecase_EvaluateAutoRelease_FrozenByDispute(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	opened := testNow.Add(-time.Hour)
	p := model.Purchase{
		ID: 1, BuyerID: 10, SellerID: 20,
		Status:          model.PurchaseStatusPending,
		DisputeOpenedAt: &opened,
		DisputeStatus:   model.DisputeStatusPending,
	}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)

	err := f.uc.EvaluateAutoRelease(context.Background(), 5)
	assert.NoError(t, err)
	f.gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
	f.escrowRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestEscrowUsecase_EvaluateAutoRelease_GoneOrderIsNoOp(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(model.EscrowOrder{}, repo.ErrNotFound)

	err := f.uc.EvaluateAutoRelease(context.Background(), 5)
	assert.NoError(t, err)
}

func TestEscrowUsecase_EvaluateAutoRelease_ReleasesWhenReady(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(o, nil)
	f.onboarding.On("PayoutReady", mock.Anything, int64(20)).Return(true, nil)
	f.gw.On("CreateTransfer", mock.Anything, mock.Anything).
		Return(gateway.TransferResult{TransferID: "tr_1"}, nil)
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsReleased", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.EvaluateAutoRelease(context.Background(), 5)
	assert.NoError(t, err)
	f.notif.AssertExpectations(t)
}

// オンボーディング完了：待っていた注文を順に再評価し、1件の失敗で残りを止めない。
func TestEscrowUsecase_HandleOnboardingCompleted_IsolatesFailures(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	f.escrowRepo.On("ListPendingOnboardingIDs", mock.Anything, int64(20)).Return([]int64{5, 6}, nil)

	bad := paidOrder()
	bad.PaymentStatus = model.EscrowStatusPendingOnboarding
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(bad, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(bad, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Return(model.Purchase{ID: 1, SellerID: 20}, nil)
	f.onboarding.On("PayoutReady", mock.Anything, int64(20)).Return(true, nil)
	f.gw.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(in gateway.TransferInput) bool {
		return in.OrderID == 5
	})).Return(gateway.TransferResult{}, errors.New("gateway down"))

	good := paidOrder()
	good.ID = 6
	good.PurchaseID = 2
	good.PaymentStatus = model.EscrowStatusPendingOnboarding
	f.escrowRepo.On("FindByID", mock.Anything, int64(6)).Return(good, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(6)).Return(good, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(2)).
		Return(model.Purchase{ID: 2, SellerID: 20}, nil)
	f.gw.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(in gateway.TransferInput) bool {
		return in.OrderID == 6
	})).Return(gateway.TransferResult{TransferID: "tr_6"}, nil)
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsReleased", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.HandleOnboardingCompleted(context.Background(), 20)
	// 1件目の失敗はエラーとして返るが、2件目のreleaseは成立している
	assert.Error(t, err)
	f.notif.AssertNumberOfCalls(t, "FundsReleased", 1)
}

// 行ロックはどの経路でもpurchase→orderの順。逆順の経路が混ざると
// デッドロック検出で片方が巻き戻り、送金と返金が両方通り得る。
func TestEscrowUsecase_Release_LocksPurchaseThenOrder(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}

	var locks []string
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Run(func(mock.Arguments) { locks = append(locks, "purchase") }).
		Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).
		Run(func(mock.Arguments) { locks = append(locks, "order") }).
		Return(o, nil)
	f.gw.On("CreateTransfer", mock.Anything, mock.Anything).
		Return(gateway.TransferResult{TransferID: "tr_1"}, nil)
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsReleased", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.Release(context.Background(), 1, 5, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"purchase", "order"}, locks)
}

func TestEscrowUsecase_Refund_LocksPurchaseThenOrder(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}

	var locks []string
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).
		Run(func(mock.Arguments) { locks = append(locks, "purchase") }).
		Return(p, nil)
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).
		Run(func(mock.Arguments) { locks = append(locks, "order") }).
		Return(o, nil)
	f.gw.On("CreateRefund", mock.Anything, mock.Anything).
		Return(gateway.RefundResult{RefundID: "re_1"}, nil)
	f.escrowRepo.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.notif.On("FundsRefunded", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.uc.Refund(context.Background(), 1, 5, "返金")
	assert.NoError(t, err)
	assert.Equal(t, []string{"purchase", "order"}, locks)
}

// 状態検査はロック取得後のスナップショットに対して行う。
// ロック前に見えたpaidを信用して送金してはいけない。
func TestEscrowUsecase_Release_RevalidatesStatusUnderLock(t *testing.T) {
	f := newEscrowFixture()
	f.tx.On("WithinTx", mock.Anything).Return(nil)

	o := paidOrder()
	p := model.Purchase{ID: 1, BuyerID: 10, SellerID: 20, Status: model.PurchaseStatusPending}
	f.escrowRepo.On("FindByID", mock.Anything, int64(5)).Return(o, nil)
	f.purchaseRepo.On("FindByIDForUpdate", mock.Anything, int64(1)).Return(p, nil)

	// ロック待ちの間に返金が先に確定していたケース
	refunded := o
	refunded.PaymentStatus = model.EscrowStatusRefunded
	f.escrowRepo.On("FindByIDForUpdate", mock.Anything, int64(5)).Return(refunded, nil)

	err := f.uc.Release(context.Background(), 1, 5, "")
	var invalid *InvalidEscrowTransitionError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, model.EscrowStatusRefunded, invalid.Status)
	f.gw.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything)
	f.escrowRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

package usecase

import (
	"context"
	"time"

	"app/internal/domain/model"
	"app/internal/gateway"
	repo "app/internal/repository"

	"github.com/stretchr/testify/mock"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// TxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type TxReposMock struct {
	purchases     repo.PurchaseRepository
	escrowOrders  repo.EscrowOrderRepository
	notifications repo.NotificationRepository
	webhookEvents repo.WebhookEventRepository
	users         repo.UserRepository
}

func (r *TxReposMock) Purchases() repo.PurchaseRepository         { return r.purchases }
func (r *TxReposMock) EscrowOrders() repo.EscrowOrderRepository   { return r.escrowOrders }
func (r *TxReposMock) Notifications() repo.NotificationRepository { return r.notifications }
func (r *TxReposMock) WebhookEvents() repo.WebhookEventRepository { return r.webhookEvents }
func (r *TxReposMock) Users() repo.UserRepository                 { return r.users }

// =====================
// Repository mocks
// =====================

type PurchaseRepoMock struct{ mock.Mock }

func (m *PurchaseRepoMock) FindByID(ctx context.Context, purchaseID int64) (model.Purchase, error) {
	args := m.Called(ctx, purchaseID)
	p, _ := args.Get(0).(model.Purchase)
	return p, args.Error(1)
}

func (m *PurchaseRepoMock) FindByIDForUpdate(ctx context.Context, purchaseID int64) (model.Purchase, error) {
	args := m.Called(ctx, purchaseID)
	p, _ := args.Get(0).(model.Purchase)
	return p, args.Error(1)
}

func (m *PurchaseRepoMock) Create(ctx context.Context, p model.Purchase) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}

func (m *PurchaseRepoMock) Save(ctx context.Context, p model.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PurchaseRepoMock) ListSweepTargetIDs(ctx context.Context, now time.Time) ([]int64, error) {
	args := m.Called(ctx, now)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

type EscrowOrderRepoMock struct{ mock.Mock }

func (m *EscrowOrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.EscrowOrder, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.EscrowOrder)
	return o, args.Error(1)
}

func (m *EscrowOrderRepoMock) FindByIDForUpdate(ctx context.Context, orderID int64) (model.EscrowOrder, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.EscrowOrder)
	return o, args.Error(1)
}

func (m *EscrowOrderRepoMock) FindByPurchaseID(ctx context.Context, purchaseID int64) (model.EscrowOrder, bool, error) {
	args := m.Called(ctx, purchaseID)
	o, _ := args.Get(0).(model.EscrowOrder)
	return o, args.Bool(1), args.Error(2)
}

func (m *EscrowOrderRepoMock) Create(ctx context.Context, o model.EscrowOrder) (int64, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(int64), args.Error(1)
}

func (m *EscrowOrderRepoMock) Save(ctx context.Context, o model.EscrowOrder) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *EscrowOrderRepoMock) ListAutoReleasableIDs(ctx context.Context, now time.Time) ([]int64, error) {
	args := m.Called(ctx, now)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *EscrowOrderRepoMock) ListPendingOnboardingIDs(ctx context.Context, sellerID int64) ([]int64, error) {
	args := m.Called(ctx, sellerID)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

type NotificationRepoMock struct{ mock.Mock }

func (m *NotificationRepoMock) Create(ctx context.Context, n model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *NotificationRepoMock) ListByUserID(ctx context.Context, userID int64, limit int) ([]model.Notification, error) {
	panic("not used in usecase tests")
}

type WebhookEventRepoMock struct{ mock.Mock }

func (m *WebhookEventRepoMock) Insert(ctx context.Context, e model.WebhookEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type UserRepoMock struct{ mock.Mock }

func (m *UserRepoMock) FindByID(ctx context.Context, userID int64) (model.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(model.User)
	return u, args.Error(1)
}

type AuditRepoMock struct{ mock.Mock }

func (m *AuditRepoMock) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *AuditRepoMock) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	panic("not used in usecase tests")
}

// =====================
// 外部コラボレーターのmock
// =====================

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreateTransfer(ctx context.Context, in gateway.TransferInput) (gateway.TransferResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(gateway.TransferResult)
	return res, args.Error(1)
}

func (m *GatewayMock) CreateRefund(ctx context.Context, in gateway.RefundInput) (gateway.RefundResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(gateway.RefundResult)
	return res, args.Error(1)
}

type OnboardingMock struct{ mock.Mock }

func (m *OnboardingMock) PayoutReady(ctx context.Context, sellerID int64) (bool, error) {
	args := m.Called(ctx, sellerID)
	return args.Bool(0), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) ContactReminder(ctx context.Context, p model.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *NotifierMock) PaymentReminder(ctx context.Context, p model.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *NotifierMock) DisputeOpened(ctx context.Context, p model.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *NotifierMock) DisputeResolved(ctx context.Context, p model.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *NotifierMock) FundsReleased(ctx context.Context, p model.Purchase, o model.EscrowOrder) error {
	args := m.Called(ctx, p, o)
	return args.Error(0)
}

func (m *NotifierMock) FundsRefunded(ctx context.Context, p model.Purchase, o model.EscrowOrder) error {
	args := m.Called(ctx, p, o)
	return args.Error(0)
}

// 固定時刻のClock
type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

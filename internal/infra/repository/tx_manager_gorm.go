package repository

import (
	"context"

	repo "app/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	purchases     repo.PurchaseRepository
	escrowOrders  repo.EscrowOrderRepository
	notifications repo.NotificationRepository
	webhookEvents repo.WebhookEventRepository
	users         repo.UserRepository
}

func (r *txReposGorm) Purchases() repo.PurchaseRepository         { return r.purchases }
func (r *txReposGorm) EscrowOrders() repo.EscrowOrderRepository   { return r.escrowOrders }
func (r *txReposGorm) Notifications() repo.NotificationRepository { return r.notifications }
func (r *txReposGorm) WebhookEvents() repo.WebhookEventRepository { return r.webhookEvents }
func (r *txReposGorm) Users() repo.UserRepository                 { return r.users }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			purchases:     NewPurchaseGormRepository(tx),
			escrowOrders:  NewEscrowOrderGormRepository(tx),
			notifications: NewNotificationGormRepository(tx),
			webhookEvents: NewWebhookEventGormRepository(tx),
			users:         NewUserGormRepository(tx),
		}
		return fn(r)
	})
}

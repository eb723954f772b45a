package repository

import (
	"context"
	"time"

	"app/internal/domain/model"
)

type EscrowOrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.EscrowOrder, error)
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.EscrowOrder, error)

	// 取引に紐づくエスクロー注文。無ければ found=false（銀行振込の取引）。
	FindByPurchaseID(ctx context.Context, purchaseID int64) (model.EscrowOrder, bool, error)

	Create(ctx context.Context, o model.EscrowOrder) (int64, error)
	Save(ctx context.Context, o model.EscrowOrder) error

	// 自動release期限が来たpaidの注文ID一覧。
	ListAutoReleasableIDs(ctx context.Context, now time.Time) ([]int64, error)

	// オンボーディング完了待ちの注文ID一覧（出品者単位）。
	ListPendingOnboardingIDs(ctx context.Context, sellerID int64) ([]int64, error)
}

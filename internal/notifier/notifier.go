package notifier

import (
	"context"

	"app/internal/domain/model"
)

// Notifier は通知のトリガーポイント。ここでは「いつ呼ぶか」だけを決めて、
// 配信の中身（メール文面など）はinfra側に任せる。失敗しても業務は止めない。
type Notifier interface {
	ContactReminder(ctx context.Context, p model.Purchase) error
	PaymentReminder(ctx context.Context, p model.Purchase) error
	DisputeOpened(ctx context.Context, p model.Purchase) error
	DisputeResolved(ctx context.Context, p model.Purchase) error
	FundsReleased(ctx context.Context, p model.Purchase, o model.EscrowOrder) error
	FundsRefunded(ctx context.Context, p model.Purchase, o model.EscrowOrder) error
}

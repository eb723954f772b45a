package notifier

import (
	"context"
	"encoding/json"
	"time"

	"app/internal/domain/model"

	"github.com/hibiken/asynq"
)

// AsynqNotifier はRedisキュー(asynq)に通知タスクを積む。
// enqueueの失敗は呼び出し元でログだけして握りつぶす運用（fire-and-forget）。
type AsynqNotifier struct {
	client *asynq.Client
}

func NewAsynqNotifier(redisAddr string) *AsynqNotifier {
	return &AsynqNotifier{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
	}
}

func (n *AsynqNotifier) Close() error {
	return n.client.Close()
}

func (n *AsynqNotifier) ContactReminder(ctx context.Context, p model.Purchase) error {
	return n.enqueue(ctx, TaskContactReminder, p, 0)
}

func (n *AsynqNotifier) PaymentReminder(ctx context.Context, p model.Purchase) error {
	return n.enqueue(ctx, TaskPaymentReminder, p, 0)
}

func (n *AsynqNotifier) DisputeOpened(ctx context.Context, p model.Purchase) error {
	return n.enqueue(ctx, TaskDisputeOpened, p, 0)
}

func (n *AsynqNotifier) DisputeResolved(ctx context.Context, p model.Purchase) error {
	return n.enqueue(ctx, TaskDisputeResolved, p, 0)
}

func (n *AsynqNotifier) FundsReleased(ctx context.Context, p model.Purchase, o model.EscrowOrder) error {
	return n.enqueue(ctx, TaskFundsReleased, p, o.TotalAmount)
}

func (n *AsynqNotifier) FundsRefunded(ctx context.Context, p model.Purchase, o model.EscrowOrder) error {
	return n.enqueue(ctx, TaskFundsRefunded, p, o.TotalAmount)
}

func (n *AsynqNotifier) enqueue(ctx context.Context, taskType string, p model.Purchase, amount int64) error {
	payload := PurchaseEventPayload{
		PurchaseID: p.ID,
		BuyerID:    p.BuyerID,
		SellerID:   p.SellerID,
		Amount:     amount,
		QueuedAt:   time.Now(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskType, b)
	_, err = n.client.EnqueueContext(ctx, task, asynq.Queue("notifications"), asynq.MaxRetry(5))
	return err
}

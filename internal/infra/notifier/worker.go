package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	repo "app/internal/repository"

	"github.com/hibiken/asynq"
)

// Worker は通知タスクを消化するasynqサーバー。
// 宛先メールアドレスはここで引く（enqueue側はIDしか知らない）。
type Worker struct {
	server *asynq.Server
	users  repo.UserRepository
}

func NewWorker(redisAddr string, users repo.UserRepository) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"notifications": 10,
			},
		},
	)
	return &Worker{server: server, users: users}
}

func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskContactReminder, w.handle("取引のご連絡をお願いします"))
	mux.HandleFunc(TaskPaymentReminder, w.handle("お支払い期限が近づいています"))
	mux.HandleFunc(TaskDisputeOpened, w.handle("取引に異議申し立てがありました"))
	mux.HandleFunc(TaskDisputeResolved, w.handle("異議申し立てが解決されました"))
	mux.HandleFunc(TaskFundsReleased, w.handle("売上金が振り込まれました"))
	mux.HandleFunc(TaskFundsRefunded, w.handle("返金が完了しました"))
	return w.server.Run(mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handle(subject string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PurchaseEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("notifier: bad payload for %s: %w", t.Type(), err)
		}

		// 配送先を解決する。ユーザーが消えていたら何もしない。
		buyer, err := w.users.FindByID(ctx, payload.BuyerID)
		if err != nil && err != repo.ErrNotFound {
			return err
		}
		seller, err := w.users.FindByID(ctx, payload.SellerID)
		if err != nil && err != repo.ErrNotFound {
			return err
		}

		// メール送信は別コラボレーターの仕事。ここでは配信記録だけ残す。
		log.Printf("[NOTIFY] task=%s purchase=%d buyer=%s seller=%s subject=%q",
			t.Type(), payload.PurchaseID, buyer.Email, seller.Email, subject)
		return nil
	}
}

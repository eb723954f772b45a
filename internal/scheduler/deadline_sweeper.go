package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"app/internal/domain/model"
	"app/internal/notifier"
	repo "app/internal/repository"
	"app/internal/usecase"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	//スイープ間隔
	Interval time.Duration
	//支払い期限（連絡成立からの猶予）
	PaymentWindow time.Duration
	//連絡期限切れから自動キャンセルまでの猶予
	CancelGrace time.Duration
	//同時に処理する取引数の上限
	Concurrency int
}

// Sweeper は未終了の取引を定期的に総なめして、
// 期限切れフラグ・リマインダー・自動キャンセル・自動releaseを処理する。
// 1件ずつ独立に処理し、どれかの失敗で全体を止めない。
type Sweeper struct {
	tx     repo.TransactionManager
	escrow *usecase.EscrowUsecase
	notif  notifier.Notifier
	clock  usecase.Clock
	cfg    Config
}

func NewSweeper(
	tx repo.TransactionManager,
	escrow *usecase.EscrowUsecase,
	notif notifier.Notifier,
	clock usecase.Clock,
	cfg Config,
) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{tx: tx, escrow: escrow, notif: notif, clock: clock, cfg: cfg}
}

// Run はctxが止まるまでスイープを回し続ける。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				log.Printf("[SWEEP] sweep finished with errors: %v", err)
			}
		}
	}
}

// SweepOnce は1回分のスイープ。呼び出しごとに状態を持たない。
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()

	var purchaseIDs []int64
	var orderIDs []int64
	err := s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		purchaseIDs, err = r.Purchases().ListSweepTargetIDs(ctx, now)
		if err != nil {
			return err
		}
		orderIDs, err = r.EscrowOrders().ListAutoReleasableIDs(ctx, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("sweep: list targets: %w", err)
	}

	//取引単位で独立に処理。失敗は記録して次へ。
	//（g.Goからerrorを返すとctxが畳まれて残りが止まるので、ここでは返さない）
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	var mu sync.Mutex
	var firstErr error
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, id := range purchaseIDs {
		id := id
		g.Go(func() error {
			if err := s.sweepPurchase(ctx, id, now); err != nil {
				log.Printf("[SWEEP] purchase=%d: %v", id, err)
				record(err)
			}
			return nil
		})
	}
	for _, id := range orderIDs {
		id := id
		g.Go(func() error {
			if err := s.escrow.EvaluateAutoRelease(ctx, id); err != nil {
				log.Printf("[SWEEP] auto release order=%d: %v", id, err)
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return firstErr
}

// sweepPurchase は1取引分の期限処理。
// フラグ設定とリマインダー送信はそれぞれ単独で冪等（片方だけ済んでいてもリトライで揃う）。
func (s *Sweeper) sweepPurchase(ctx context.Context, purchaseID int64, now time.Time) error {
	return s.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Purchases().FindByIDForUpdate(ctx, purchaseID)
		if err == repo.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		o, found, err := r.EscrowOrders().FindByPurchaseID(ctx, purchaseID)
		if err != nil {
			return err
		}
		var op *model.EscrowOrder
		if found {
			op = &o
		}

		//終端と異議申し立て中には触らない
		state := model.DeriveState(p, op)
		if state.Terminal() || state == model.StateDisputeOpen {
			return nil
		}

		changed := false

		//連絡期限
		if !p.Contacted() && now.After(p.ContactDeadline) {
			if !p.ContactDeadlineMissed {
				p.ContactDeadlineMissed = true
				changed = true
			}
			if p.ContactWarningSentAt == nil {
				if err := s.sendContactReminder(ctx, r, &p, now); err != nil {
					//リマインダー失敗でフラグ設定まで巻き戻さない。次回スイープで再送。
					log.Printf("[SWEEP] contact reminder failed purchase=%d: %v", purchaseID, err)
				} else {
					changed = true
				}
			}
			//期限切れのまま猶予も過ぎたら自動キャンセル
			if now.After(p.ContactDeadline.Add(s.cfg.CancelGrace)) {
				p.Status = model.PurchaseStatusCancelled
				p.CancelReason = "連絡期限切れのため自動キャンセル"
				changed = true
			}
		}

		//支払い期限（連絡成立済みで未払いの取引だけ）
		if p.Contacted() && !model.EffectivePaymentConfirmed(p, op) && !p.Paid {
			deadline := p.PaymentDeadline
			if deadline == nil {
				d := p.LastContactedAt().Add(s.cfg.PaymentWindow)
				deadline = &d
				p.PaymentDeadline = deadline
				changed = true
			}
			if now.After(*deadline) {
				if !p.PaymentDeadlineMissed {
					p.PaymentDeadlineMissed = true
					changed = true
				}
				if p.PaymentReminderSentAt == nil {
					if err := s.sendPaymentReminder(ctx, r, &p, now); err != nil {
						log.Printf("[SWEEP] payment reminder failed purchase=%d: %v", purchaseID, err)
					} else {
						changed = true
					}
				}
			}
		}

		if !changed {
			return nil
		}
		p.UpdatedAt = now
		return r.Purchases().Save(ctx, p)
	})
}

func (s *Sweeper) sendContactReminder(ctx context.Context, r repo.TxRepos, p *model.Purchase, now time.Time) error {
	if err := s.notif.ContactReminder(ctx, *p); err != nil {
		return err
	}
	n := model.Notification{
		UserID:     p.SellerID,
		PurchaseID: p.ID,
		Kind:       model.NotificationContactReminder,
		Message:    fmt.Sprintf("取引%dの連絡期限が過ぎています", p.ID),
		CreatedAt:  now,
	}
	if err := r.Notifications().Create(ctx, n); err != nil {
		return err
	}
	p.ContactWarningSentAt = &now
	return nil
}

func (s *Sweeper) sendPaymentReminder(ctx context.Context, r repo.TxRepos, p *model.Purchase, now time.Time) error {
	if err := s.notif.PaymentReminder(ctx, *p); err != nil {
		return err
	}
	n := model.Notification{
		UserID:     p.BuyerID,
		PurchaseID: p.ID,
		Kind:       model.NotificationPaymentReminder,
		Message:    fmt.Sprintf("取引%dの支払い期限が過ぎています", p.ID),
		CreatedAt:  now,
	}
	if err := r.Notifications().Create(ctx, n); err != nil {
		return err
	}
	p.PaymentReminderSentAt = &now
	return nil
}

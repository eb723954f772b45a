package usecase

import (
	"context"
	"log"
	"net/http"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// WebhookUsecase はゲートウェイからのイベントを取り込む。
// event_idで重複配信をはじき、同じイベントを2回適用しない。
type WebhookUsecase struct {
	tx          repo.TransactionManager
	purchases   *PurchaseUsecase
	escrow      *EscrowUsecase
	clock       Clock
	autoRelease time.Duration
}

func NewWebhookUsecase(
	tx repo.TransactionManager,
	purchases *PurchaseUsecase,
	escrow *EscrowUsecase,
	clock Clock,
	autoRelease time.Duration,
) *WebhookUsecase {
	return &WebhookUsecase{
		tx:          tx,
		purchases:   purchases,
		escrow:      escrow,
		clock:       clock,
		autoRelease: autoRelease,
	}
}

type PaymentSucceededInput struct {
	EventID         string
	PurchaseID      int64
	PaymentIntentID string
	ChargeID        string
	ItemPrice       int64
	ShippingCost    int64
	PlatformFee     int64
	ProtectionFee   int64
	TotalAmount     int64
}

// HandlePaymentSucceeded はチャージ確保イベント。
// エスクロー注文をpaidで記録してから、別トランザクションでPurchase側のキャッシュを更新する。
// 金銭の書き込みが先。キャッシュ更新が失敗しても巻き戻さず、照合用にログを残す。
func (u *WebhookUsecase) HandlePaymentSucceeded(ctx context.Context, in PaymentSucceededInput) error {
	if in.EventID == "" {
		return NewHTTPError(http.StatusBadRequest, "event id required")
	}
	if in.PurchaseID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid purchase id")
	}

	now := u.clock.Now()
	duplicate := false

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		err := r.WebhookEvents().Insert(ctx, model.WebhookEvent{
			EventID:   in.EventID,
			EventType: "payment.succeeded",
			CreatedAt: now,
		})
		if err == repo.ErrDuplicate {
			//処理済み
			duplicate = true
			return nil
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		p, err := r.Purchases().FindByIDForUpdate(ctx, in.PurchaseID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "purchase not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		_, found, err := r.EscrowOrders().FindByPurchaseID(ctx, in.PurchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			//注文は作成済み（イベントの順序入れ替わり）。何もしない。
			return nil
		}

		autoReleaseAt := now.Add(u.autoRelease)
		o := model.EscrowOrder{
			PurchaseID:      p.ID,
			SellerID:        p.SellerID,
			ItemPrice:       in.ItemPrice,
			ShippingCost:    in.ShippingCost,
			PlatformFee:     in.PlatformFee,
			ProtectionFee:   in.ProtectionFee,
			TotalAmount:     in.TotalAmount,
			PaymentStatus:   model.EscrowStatusPaid,
			PaymentIntentID: in.PaymentIntentID,
			ChargeID:        in.ChargeID,
			AutoReleaseAt:   &autoReleaseAt,
			PaidAt:          &now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := r.EscrowOrders().Create(ctx, o); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	// キャッシュ更新は2段目。失敗しても金銭の記録は確定している。
	if _, err := u.purchases.ConfirmPayment(ctx, 0, in.PurchaseID); err != nil {
		log.Printf("[RECONCILE] payment cache update failed purchase=%d event=%s: %v",
			in.PurchaseID, in.EventID, err)
	}
	return nil
}

type OnboardingStatusChangedInput struct {
	EventID        string
	SellerID       int64
	PayoutsEnabled bool
}

// HandleOnboardingStatusChanged はオンボーディング状況の変化イベント。
// 完了になったら、待たせていたreleaseを再評価する。
func (u *WebhookUsecase) HandleOnboardingStatusChanged(ctx context.Context, in OnboardingStatusChangedInput) error {
	if in.EventID == "" {
		return NewHTTPError(http.StatusBadRequest, "event id required")
	}
	if in.SellerID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid seller id")
	}

	duplicate := false
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		err := r.WebhookEvents().Insert(ctx, model.WebhookEvent{
			EventID:   in.EventID,
			EventType: "payout.onboarding_updated",
			CreatedAt: u.clock.Now(),
		})
		if err == repo.ErrDuplicate {
			duplicate = true
			return nil
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate || !in.PayoutsEnabled {
		return nil
	}

	return u.escrow.HandleOnboardingCompleted(ctx, in.SellerID)
}

package usecase

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"app/internal/domain/model"
	"app/internal/gateway"
	"app/internal/notifier"
	repo "app/internal/repository"
)

// EscrowUsecase はエスクロー注文のpaymentStatus遷移を一手に引き受ける。
// created → paid →（released | on_hold | refunded）。
// オンボーディング未完了のreleaseはrelease_pending_onboardingで待たせる。
type EscrowUsecase struct {
	tx         repo.TransactionManager
	gw         gateway.PaymentGateway
	onboarding gateway.PayoutOnboardingProvider
	auditRepo  repo.AuditLogRepository
	notif      notifier.Notifier
	clock      Clock
}

func NewEscrowUsecase(
	tx repo.TransactionManager,
	gw gateway.PaymentGateway,
	onboarding gateway.PayoutOnboardingProvider,
	auditRepo repo.AuditLogRepository,
	notif notifier.Notifier,
	clock Clock,
) *EscrowUsecase {
	return &EscrowUsecase{
		tx:         tx,
		gw:         gw,
		onboarding: onboarding,
		auditRepo:  auditRepo,
		notif:      notif,
		clock:      clock,
	}
}

// ゲートウェイ呼び出しの冪等キー。(注文, 操作)で固定し、リトライしても増えない。
func releaseIdempotencyKey(orderID int64) string {
	return fmt.Sprintf("escrow-order:%d:release", orderID)
}

func refundIdempotencyKey(orderID int64) string {
	return fmt.Sprintf("escrow-order:%d:refund", orderID)
}

func sellerCompIdempotencyKey(orderID int64) string {
	return fmt.Sprintf("escrow-order:%d:seller-comp", orderID)
}

// Release は管理者による手動release。
// paid（またはrelease_pending_onboardingの強制実行）のときだけ有効。
func (u *EscrowUsecase) Release(ctx context.Context, adminID int64, orderID int64, reason string) error {
	if adminID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var released model.EscrowOrder
	var purchase model.Purchase

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.EscrowOrders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// 行ロックはどの経路でもpurchase→orderの順で取る
		p, err := r.Purchases().FindByIDForUpdate(ctx, o.PurchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		o, err = r.EscrowOrders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if o.PaymentStatus.Terminal() {
			return &InvalidEscrowTransitionError{Op: "release", OrderID: orderID, Status: o.PaymentStatus}
		}
		if o.PaymentStatus != model.EscrowStatusPaid && o.PaymentStatus != model.EscrowStatusPendingOnboarding {
			return &InvalidEscrowTransitionError{Op: "release", OrderID: orderID, Status: o.PaymentStatus}
		}

		before := o.PaymentStatus
		o, err = u.transferAndMarkReleased(ctx, r, o)
		if err != nil {
			return err
		}

		if err := u.audit(ctx, adminID, model.AuditActionReleaseEscrow, orderID, before, o.PaymentStatus, reason); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		released = o
		purchase = p
		return nil
	})
	if err != nil {
		return err
	}

	if err := u.notif.FundsReleased(ctx, purchase, released); err != nil {
		log.Printf("[NOTIFY] enqueue failed order=%d: %v", orderID, err)
	}
	return nil
}

// Hold は自動releaseを止める管理者操作。paidのときだけ有効。
// 解除は別のrelease呼び出しで行う（holdの単純な取り消しではなく、release条件を再検査する）。
func (u *EscrowUsecase) Hold(ctx context.Context, adminID int64, orderID int64, reason string) error {
	if adminID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.EscrowOrders().FindByIDForUpdate(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if o.PaymentStatus.Terminal() {
			return &InvalidEscrowTransitionError{Op: "hold", OrderID: orderID, Status: o.PaymentStatus}
		}
		if o.PaymentStatus != model.EscrowStatusPaid {
			return &InvalidEscrowTransitionError{Op: "hold", OrderID: orderID, Status: o.PaymentStatus}
		}

		before := o.PaymentStatus
		o.PaymentStatus = model.EscrowStatusOnHold
		o.HoldReason = reason
		o.UpdatedAt = u.clock.Now()
		if err := r.EscrowOrders().Save(ctx, o); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if err := u.audit(ctx, adminID, model.AuditActionHoldEscrow, orderID, before, o.PaymentStatus, reason); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
}

// Refund は買い手への返金。paid / on_hold のときだけ有効。
func (u *EscrowUsecase) Refund(ctx context.Context, adminID int64, orderID int64, reason string) error {
	if adminID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var refunded model.EscrowOrder
	var purchase model.Purchase

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.EscrowOrders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		// 行ロックはどの経路でもpurchase→orderの順で取る
		p, err := r.Purchases().FindByIDForUpdate(ctx, o.PurchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		o, err = r.EscrowOrders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if o.PaymentStatus.Terminal() {
			return &InvalidEscrowTransitionError{Op: "refund", OrderID: orderID, Status: o.PaymentStatus}
		}
		if o.PaymentStatus != model.EscrowStatusPaid && o.PaymentStatus != model.EscrowStatusOnHold {
			return &InvalidEscrowTransitionError{Op: "refund", OrderID: orderID, Status: o.PaymentStatus}
		}

		before := o.PaymentStatus
		o, err = u.refundTx(ctx, r, o, reason)
		if err != nil {
			return err
		}

		if err := u.audit(ctx, adminID, model.AuditActionRefundEscrow, orderID, before, o.PaymentStatus, reason); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		refunded = o
		purchase = p
		return nil
	})
	if err != nil {
		return err
	}

	if err := u.notif.FundsRefunded(ctx, purchase, refunded); err != nil {
		log.Printf("[NOTIFY] enqueue failed order=%d: %v", orderID, err)
	}
	return nil
}

// EvaluateAutoRelease は自動releaseの単発評価（autoReleaseAt経過分のスイープから呼ばれる）。
func (u *EscrowUsecase) EvaluateAutoRelease(ctx context.Context, orderID int64) error {
	var released *model.EscrowOrder
	var purchase model.Purchase

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.EscrowOrders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		// 行ロックはどの経路でもpurchase→orderの順で取る
		p, err := r.Purchases().FindByIDForUpdate(ctx, o.PurchaseID)
		if err != nil {
			return err
		}
		o, err = r.EscrowOrders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		updated, err := u.evaluateReleaseTx(ctx, r, p, o)
		if err != nil {
			return err
		}
		if updated.PaymentStatus == model.EscrowStatusReleased && o.PaymentStatus != model.EscrowStatusReleased {
			released = &updated
			purchase = p
		}
		return nil
	})
	if err != nil {
		return err
	}

	if released != nil {
		if err := u.notif.FundsReleased(ctx, purchase, *released); err != nil {
			log.Printf("[NOTIFY] enqueue failed order=%d: %v", orderID, err)
		}
	}
	return nil
}

// HandleOnboardingCompleted はオンボーディング完了イベントの再評価。
// release_pending_onboardingで待っている注文をもう一度release評価に通す。
// 1件の失敗で他を止めない。
func (u *EscrowUsecase) HandleOnboardingCompleted(ctx context.Context, sellerID int64) error {
	var ids []int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		ids, err = r.EscrowOrders().ListPendingOnboardingIDs(ctx, sellerID)
		return err
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, id := range ids {
		if err := u.EvaluateAutoRelease(ctx, id); err != nil {
			log.Printf("[ESCROW] onboarding retry failed order=%d seller=%d: %v", id, sellerID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// evaluateReleaseTx はreleaseの条件評価本体。呼び出し側がロックを握っていること。
//   - 異議申し立て中は何もしない（凍結）
//   - paid / release_pending_onboarding 以外も何もしない
//   - オンボーディング未完了ならrelease_pending_onboardingへ
//   - 条件が揃ったら送金してreleasedへ
func (u *EscrowUsecase) evaluateReleaseTx(ctx context.Context, r repo.TxRepos, p model.Purchase, o model.EscrowOrder) (model.EscrowOrder, error) {
	if p.DisputeStatus == model.DisputeStatusPending {
		return o, nil
	}
	if o.PaymentStatus != model.EscrowStatusPaid && o.PaymentStatus != model.EscrowStatusPendingOnboarding {
		return o, nil
	}

	ready, err := u.onboarding.PayoutReady(ctx, o.SellerID)
	if err != nil {
		return o, &ExternalGatewayError{Op: "payout-status", OrderID: o.ID, Err: err}
	}

	if !ready {
		if o.PaymentStatus == model.EscrowStatusPaid {
			o.PaymentStatus = model.EscrowStatusPendingOnboarding
			o.UpdatedAt = u.clock.Now()
			if err := r.EscrowOrders().Save(ctx, o); err != nil {
				return o, err
			}
		}
		return o, nil
	}

	return u.transferAndMarkReleased(ctx, r, o)
}

// transferAndMarkReleased は送金してreleasedにする。
// ゲートウェイが失敗したらそのまま返す（状態は進めない。トランザクションごと巻き戻る）。
func (u *EscrowUsecase) transferAndMarkReleased(ctx context.Context, r repo.TxRepos, o model.EscrowOrder) (model.EscrowOrder, error) {
	payout := o.TotalAmount - o.PlatformFee - o.ProtectionFee

	res, err := u.gw.CreateTransfer(ctx, gateway.TransferInput{
		OrderID:        o.ID,
		SellerID:       o.SellerID,
		Amount:         payout,
		IdempotencyKey: releaseIdempotencyKey(o.ID),
		Reason:         "escrow release",
	})
	if err != nil {
		log.Printf("[RECONCILE] transfer failed order=%d purchase=%d key=%s: %v",
			o.ID, o.PurchaseID, releaseIdempotencyKey(o.ID), err)
		return o, &ExternalGatewayError{Op: "release", OrderID: o.ID, Err: err}
	}

	now := u.clock.Now()
	o.PaymentStatus = model.EscrowStatusReleased
	o.TransferID = res.TransferID
	o.ReleasedAt = &now
	o.HoldReason = ""
	o.UpdatedAt = now
	if err := r.EscrowOrders().Save(ctx, o); err != nil {
		// 送金は通ったのに記録できない。手動照合のためにキーごと残す。
		log.Printf("[RECONCILE] transfer done but save failed order=%d transfer=%s key=%s: %v",
			o.ID, res.TransferID, releaseIdempotencyKey(o.ID), err)
		return o, err
	}
	return o, nil
}

// refundTx は返金してrefundedにする。呼び出し側がロックを握っていること。
func (u *EscrowUsecase) refundTx(ctx context.Context, r repo.TxRepos, o model.EscrowOrder, reason string) (model.EscrowOrder, error) {
	res, err := u.gw.CreateRefund(ctx, gateway.RefundInput{
		OrderID:        o.ID,
		ChargeID:       o.ChargeID,
		Amount:         o.TotalAmount,
		IdempotencyKey: refundIdempotencyKey(o.ID),
		Reason:         reason,
	})
	if err != nil {
		log.Printf("[RECONCILE] refund failed order=%d purchase=%d key=%s: %v",
			o.ID, o.PurchaseID, refundIdempotencyKey(o.ID), err)
		return o, &ExternalGatewayError{Op: "refund", OrderID: o.ID, Err: err}
	}

	now := u.clock.Now()
	o.PaymentStatus = model.EscrowStatusRefunded
	o.RefundID = res.RefundID
	o.RefundedAt = &now
	o.UpdatedAt = now
	if err := r.EscrowOrders().Save(ctx, o); err != nil {
		log.Printf("[RECONCILE] refund done but save failed order=%d refund=%s key=%s: %v",
			o.ID, res.RefundID, refundIdempotencyKey(o.ID), err)
		return o, err
	}
	return o, nil
}

func (u *EscrowUsecase) audit(ctx context.Context, adminID int64, action model.AuditAction, orderID int64, before, after model.EscrowPaymentStatus, reason string) error {
	return u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  adminID,
		Action:       action,
		ResourceType: model.AuditResourceEscrowOrder,
		ResourceID:   orderID,
		BeforeJSON:   fmt.Sprintf(`{"payment_status":%q}`, before),
		AfterJSON:    fmt.Sprintf(`{"payment_status":%q,"reason":%q}`, after, reason),
		CreatedAt:    u.clock.Now(),
	})
}

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

// DisputeUsecase は管理者による異議解決。
// フラグは独立したbool3つで、enumではない。全部falseの「記録だけの解決」もあり得る。
type DisputeUsecase struct {
	tx        repo.TransactionManager
	gw        gateway.PaymentGateway
	escrow    *EscrowUsecase
	auditRepo repo.AuditLogRepository
	notif     notifier.Notifier
	clock     Clock
}

func NewDisputeUsecase(
	tx repo.TransactionManager,
	gw gateway.PaymentGateway,
	escrow *EscrowUsecase,
	auditRepo repo.AuditLogRepository,
	notif notifier.Notifier,
	clock Clock,
) *DisputeUsecase {
	return &DisputeUsecase{
		tx:        tx,
		gw:        gw,
		escrow:    escrow,
		auditRepo: auditRepo,
		notif:     notif,
		clock:     clock,
	}
}

type ResolveDisputeInput struct {
	Resolution     string
	RefundBuyer    bool
	RefundSeller   bool
	CancelPurchase bool
}

// Resolve は異議申し立ての解決。効果は固定順で適用する：
// 1) cancelPurchase 2) refundBuyer 3) refundSeller 4) 常にresolvedへ。
// 途中で失敗したらトランザクションごと巻き戻り、何も適用されない。
func (u *DisputeUsecase) Resolve(ctx context.Context, adminID int64, purchaseID int64, in ResolveDisputeInput) error {
	if adminID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if purchaseID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	resolution := strings.TrimSpace(in.Resolution)
	if resolution == "" {
		return NewHTTPError(http.StatusBadRequest, "resolution required")
	}

	var resolved model.Purchase

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Purchases().FindByIDForUpdate(ctx, purchaseID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if p.DisputeStatus == model.DisputeStatusResolved {
			return &AlreadyResolvedError{PurchaseID: purchaseID}
		}
		if p.DisputeStatus != model.DisputeStatusPending {
			return NewHTTPError(http.StatusConflict, "no open dispute")
		}

		o, hasOrder, err := r.EscrowOrders().FindByPurchaseID(ctx, purchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if hasOrder {
			// 以降の金銭処理のためにロックを取り直す
			o, err = r.EscrowOrders().FindByIDForUpdate(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		// 1) 取引キャンセル
		if in.CancelPurchase {
			p.Status = model.PurchaseStatusCancelled
			p.CancelReason = resolution
		}

		// 2) 買い手への返金。エスクロー注文（＝ゲートウェイでの支払い）が無い
		//    銀行振込の取引はこの経路では返金できない。
		if in.RefundBuyer {
			if !hasOrder || o.ChargeID == "" {
				return &NoCapturedPaymentError{PurchaseID: purchaseID}
			}
			if o.PaymentStatus != model.EscrowStatusPaid && o.PaymentStatus != model.EscrowStatusOnHold {
				return &InvalidEscrowTransitionError{Op: "refund", OrderID: o.ID, Status: o.PaymentStatus}
			}
			o, err = u.escrow.refundTx(ctx, r, o, resolution)
			if err != nil {
				return err
			}
		}

		// 3) 売り手への補償送金
		if in.RefundSeller {
			if !hasOrder {
				return &NoCapturedPaymentError{PurchaseID: purchaseID}
			}
			payout := o.TotalAmount - o.PlatformFee - o.ProtectionFee
			_, err := u.gw.CreateTransfer(ctx, gateway.TransferInput{
				OrderID:        o.ID,
				SellerID:       o.SellerID,
				Amount:         payout,
				IdempotencyKey: sellerCompIdempotencyKey(o.ID),
				Reason:         resolution,
			})
			if err != nil {
				log.Printf("[RECONCILE] seller compensation failed order=%d purchase=%d key=%s: %v",
					o.ID, purchaseID, sellerCompIdempotencyKey(o.ID), err)
				return &ExternalGatewayError{Op: "seller-comp", OrderID: o.ID, Err: err}
			}
		}

		// 4) フラグの組み合わせによらず、必ず解決として記録する
		now := u.clock.Now()
		p.DisputeStatus = model.DisputeStatusResolved
		p.DisputeResolvedAt = &now
		p.DisputeResolvedBy = &adminID
		p.UpdatedAt = now
		if err := r.Purchases().Save(ctx, p); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if err := u.auditRepo.Create(ctx, model.AuditLog{
			ActorUserID:  adminID,
			Action:       model.AuditActionResolveDispute,
			ResourceType: model.AuditResourcePurchase,
			ResourceID:   purchaseID,
			BeforeJSON:   `{"dispute_status":"PENDING"}`,
			AfterJSON: fmt.Sprintf(`{"dispute_status":"RESOLVED","refund_buyer":%t,"refund_seller":%t,"cancel_purchase":%t}`,
				in.RefundBuyer, in.RefundSeller, in.CancelPurchase),
			CreatedAt: now,
		}); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//当事者双方への通知を記録
		for _, userID := range []int64{p.BuyerID, p.SellerID} {
			n := model.Notification{
				UserID:     userID,
				PurchaseID: p.ID,
				Kind:       model.NotificationDisputeResolved,
				Message:    fmt.Sprintf("取引%dの異議申し立てが解決されました", p.ID),
				CreatedAt:  now,
			}
			if err := r.Notifications().Create(ctx, n); err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
		}

		resolved = p
		return nil
	})
	if err != nil {
		return err
	}

	if err := u.notif.DisputeResolved(ctx, resolved); err != nil {
		log.Printf("[NOTIFY] enqueue failed purchase=%d: %v", purchaseID, err)
	}
	return nil
}

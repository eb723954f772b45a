package usecase

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/notifier"
	repo "app/internal/repository"
)

type PurchaseUsecase struct {
	tx        repo.TransactionManager
	escrow    *EscrowUsecase
	auditRepo repo.AuditLogRepository
	notif     notifier.Notifier
	clock     Clock

	contactWindow time.Duration
	paymentWindow time.Duration
}

func NewPurchaseUsecase(
	tx repo.TransactionManager,
	escrow *EscrowUsecase,
	auditRepo repo.AuditLogRepository,
	notif notifier.Notifier,
	clock Clock,
	contactWindow time.Duration,
	paymentWindow time.Duration,
) *PurchaseUsecase {
	return &PurchaseUsecase{
		tx:            tx,
		escrow:        escrow,
		auditRepo:     auditRepo,
		notif:         notif,
		clock:         clock,
		contactWindow: contactWindow,
		paymentWindow: paymentWindow,
	}
}

type CreatePurchaseInput struct {
	BuyerID  int64
	SellerID int64
	WatchID  int64
	Price    int64
}

// 取引の状態ビュー。コマンドの戻り値とGET用クエリで共通。
type PurchaseStateOutput struct {
	PurchaseID int64           `json:"purchase_id"`
	Projection StateProjection `json:"projection"`
	Deadlines  DeadlineInfo    `json:"deadlines"`
}

func (u *PurchaseUsecase) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (PurchaseStateOutput, error) {
	if in.BuyerID <= 0 || in.SellerID <= 0 || in.WatchID <= 0 {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "invalid ids")
	}
	if in.BuyerID == in.SellerID {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "buyer and seller must differ")
	}
	if in.Price <= 0 {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "invalid price")
	}

	now := u.clock.Now()
	var out PurchaseStateOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p := model.Purchase{
			BuyerID:         in.BuyerID,
			SellerID:        in.SellerID,
			WatchID:         in.WatchID,
			Price:           in.Price,
			Status:          model.PurchaseStatusPending,
			DisputeStatus:   model.DisputeStatusNone,
			ContactDeadline: now.Add(u.contactWindow),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		id, err := r.Purchases().Create(ctx, p)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		p.ID = id
		out = toStateOutput(p, nil)
		return nil
	})
	if err != nil {
		return PurchaseStateOutput{}, err
	}
	return out, nil
}

// MarkContacted は買い手・売り手の取引連絡を記録する。
// 期限切れフラグはここでクリアされる（連絡が成立したので）。
func (u *PurchaseUsecase) MarkContacted(ctx context.Context, actorID int64, purchaseID int64) (PurchaseStateOutput, error) {
	return u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "markContacted", State: state}
		}

		now := u.clock.Now()
		switch actorID {
		case p.BuyerID:
			p.BuyerContactedAt = &now
		case p.SellerID:
			p.SellerContactedAt = &now
		default:
			return ErrUnauthorizedActor
		}

		p.ContactDeadlineMissed = false

		//連絡が成立したら支払い期限が動き出す
		if last := p.LastContactedAt(); last != nil {
			deadline := last.Add(u.paymentWindow)
			p.PaymentDeadline = &deadline
		}
		return nil
	})
}

// MarkPaid は銀行振込パスの「支払った」申告（買い手）。
func (u *PurchaseUsecase) MarkPaid(ctx context.Context, actorID int64, purchaseID int64) (PurchaseStateOutput, error) {
	return u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		if actorID != p.BuyerID {
			return ErrUnauthorizedActor
		}

		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "pay", State: state}
		}
		if p.Paid {
			// 二重送信はno-op
			return nil
		}
		p.Paid = true
		return nil
	})
}

// ConfirmPayment は売り手の入金確認。webhook経由でも同じ遷移を使う。
// 冪等：確認済みなら何もしない。
func (u *PurchaseUsecase) ConfirmPayment(ctx context.Context, actorID int64, purchaseID int64) (PurchaseStateOutput, error) {
	return u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		// actorID=0はシステム（webhook）扱い
		if actorID != 0 && actorID != p.SellerID {
			return ErrUnauthorizedActor
		}
		if p.PaymentConfirmed {
			return nil
		}

		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "confirmPayment", State: state}
		}

		now := u.clock.Now()
		p.PaymentConfirmed = true
		p.PaymentConfirmedAt = &now
		p.PaymentDeadlineMissed = false
		return nil
	})
}

// MarkShipped は発送登録。支払い確認前は登録できない。
func (u *PurchaseUsecase) MarkShipped(ctx context.Context, actorID int64, purchaseID int64, trackingNumber, trackingProvider string) (PurchaseStateOutput, error) {
	return u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		if actorID != p.SellerID {
			return ErrUnauthorizedActor
		}

		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "markShipped", State: state}
		}
		if !model.EffectivePaymentConfirmed(*p, o) {
			return &InvalidStateTransitionError{Command: "markShipped", State: state}
		}

		now := u.clock.Now()
		p.TrackingNumber = strings.TrimSpace(trackingNumber)
		p.TrackingProvider = strings.TrimSpace(trackingProvider)
		p.ShippedAt = &now
		return nil
	})
}

// ConfirmReceipt は買い手の受け取り確認。
// エスクロー注文があれば、同じトランザクション内でreleaseの評価まで行う。
func (u *PurchaseUsecase) ConfirmReceipt(ctx context.Context, actorID int64, purchaseID int64) (PurchaseStateOutput, error) {
	return u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		if actorID != p.BuyerID {
			return ErrUnauthorizedActor
		}

		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "confirmReceipt", State: state}
		}
		if p.ItemReceived {
			return nil
		}

		now := u.clock.Now()
		p.ItemReceived = true
		p.ItemReceivedAt = &now

		if o != nil {
			updated, err := u.escrow.evaluateReleaseTx(ctx, r, *p, *o)
			if err != nil {
				return err
			}
			*o = updated
		}
		return nil
	})
}

// OpenDispute は異議申し立て。自動releaseはこれで凍結される。
func (u *PurchaseUsecase) OpenDispute(ctx context.Context, actorID int64, purchaseID int64, reason, description string) (PurchaseStateOutput, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "reason required")
	}

	out, err := u.mutate(ctx, actorID, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		if actorID != p.BuyerID && actorID != p.SellerID {
			return ErrUnauthorizedActor
		}

		state := model.DeriveState(*p, o)
		if state == model.StateCompleted || state == model.StateCancelled {
			return &InvalidStateTransitionError{Command: "openDispute", State: state}
		}
		if p.DisputeStatus == model.DisputeStatusPending {
			return NewHTTPError(http.StatusConflict, "dispute already open")
		}

		now := u.clock.Now()
		p.DisputeOpenedAt = &now
		p.DisputeReason = reason
		p.DisputeDescription = strings.TrimSpace(description)
		p.DisputeStatus = model.DisputeStatusPending
		p.DisputeResolvedAt = nil
		p.DisputeResolvedBy = nil

		//相手方への通知を記録
		counterpart := p.SellerID
		if actorID == p.SellerID {
			counterpart = p.BuyerID
		}
		n := model.Notification{
			UserID:     counterpart,
			PurchaseID: p.ID,
			Kind:       model.NotificationDisputeOpened,
			Message:    fmt.Sprintf("取引%dに異議申し立てがありました: %s", p.ID, reason),
			CreatedAt:  now,
		}
		if err := r.Notifications().Create(ctx, n); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if err != nil {
		return PurchaseStateOutput{}, err
	}

	u.notifyAsync(ctx, purchaseID, u.notif.DisputeOpened)
	return out, nil
}

// CancelPurchase は取引のキャンセル。スイーパーと管理者から呼ばれる。
func (u *PurchaseUsecase) CancelPurchase(ctx context.Context, purchaseID int64, reason string) (PurchaseStateOutput, error) {
	return u.mutate(ctx, 0, purchaseID, func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error {
		state := model.DeriveState(*p, o)
		if state.Terminal() {
			return &InvalidStateTransitionError{Command: "cancelPurchase", State: state}
		}

		p.Status = model.PurchaseStatusCancelled
		p.CancelReason = strings.TrimSpace(reason)
		return nil
	})
}

// AdminCancel は管理者による明示キャンセル。監査ログを残す。
func (u *PurchaseUsecase) AdminCancel(ctx context.Context, adminID int64, purchaseID int64, reason string) (PurchaseStateOutput, error) {
	if adminID <= 0 {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	out, err := u.CancelPurchase(ctx, purchaseID, reason)
	if err != nil {
		return PurchaseStateOutput{}, err
	}

	if err := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  adminID,
		Action:       model.AuditActionCancelPurchase,
		ResourceType: model.AuditResourcePurchase,
		ResourceID:   purchaseID,
		BeforeJSON:   `{"status":"PENDING"}`,
		AfterJSON:    fmt.Sprintf(`{"status":"CANCELLED","reason":%q}`, reason),
		CreatedAt:    u.clock.Now(),
	}); err != nil {
		log.Printf("[AUDIT] cancel log failed purchase=%d admin=%d: %v", purchaseID, adminID, err)
	}
	return out, nil
}

type GetPurchaseStateOutput struct {
	PurchaseID int64               `json:"purchase_id"`
	State      model.PurchaseState `json:"state"`
	Label      string              `json:"label"`
	NextAction Action              `json:"next_action"`
	Secondary  []Action            `json:"secondary_actions"`
	Tone       string              `json:"tone"`
	Deadlines  DeadlineInfo        `json:"deadlines"`
}

// GetPurchaseState はUI用の状態クエリ。書き込みはしない。
func (u *PurchaseUsecase) GetPurchaseState(ctx context.Context, actorID int64, purchaseID int64) (GetPurchaseStateOutput, error) {
	if purchaseID <= 0 {
		return GetPurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out GetPurchaseStateOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Purchases().FindByID(ctx, purchaseID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		//当事者以外には存在しない扱い
		if actorID != p.BuyerID && actorID != p.SellerID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		o, found, err := r.EscrowOrders().FindByPurchaseID(ctx, purchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		var op *model.EscrowOrder
		if found {
			op = &o
		}

		s := toStateOutput(p, op)
		out = GetPurchaseStateOutput{
			PurchaseID: p.ID,
			State:      s.Projection.State,
			Label:      s.Projection.Label,
			NextAction: s.Projection.PrimaryAction,
			Secondary:  s.Projection.SecondaryActions,
			Tone:       s.Projection.Tone,
			Deadlines:  s.Deadlines,
		}
		return nil
	})
	if err != nil {
		return GetPurchaseStateOutput{}, err
	}
	return out, nil
}

// mutate は「ロック→検査→変更→保存→新しいビューを返す」の共通骨格。
// 行ロックでコマンド同士・スイープとの競合を直列化する。
func (u *PurchaseUsecase) mutate(
	ctx context.Context,
	actorID int64,
	purchaseID int64,
	fn func(p *model.Purchase, o *model.EscrowOrder, r repo.TxRepos) error,
) (PurchaseStateOutput, error) {
	if purchaseID <= 0 {
		return PurchaseStateOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out PurchaseStateOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Purchases().FindByIDForUpdate(ctx, purchaseID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		o, found, err := r.EscrowOrders().FindByPurchaseID(ctx, purchaseID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		var op *model.EscrowOrder
		if found {
			// 注文の行ロックも取り直す。ロック順はどの経路でもpurchase→order。
			o, err = r.EscrowOrders().FindByIDForUpdate(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			op = &o
		}

		if err := fn(&p, op, r); err != nil {
			return err
		}

		p.UpdatedAt = u.clock.Now()
		if err := r.Purchases().Save(ctx, p); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toStateOutput(p, op)
		return nil
	})
	if err != nil {
		return PurchaseStateOutput{}, err
	}
	return out, nil
}

// notifyAsync はコミット後のfire-and-forget通知。失敗はログに残すだけ。
func (u *PurchaseUsecase) notifyAsync(ctx context.Context, purchaseID int64, fn func(context.Context, model.Purchase) error) {
	var p model.Purchase
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		p, err = r.Purchases().FindByID(ctx, purchaseID)
		return err
	})
	if err != nil {
		log.Printf("[NOTIFY] skip purchase=%d: %v", purchaseID, err)
		return
	}
	if err := fn(ctx, p); err != nil {
		log.Printf("[NOTIFY] enqueue failed purchase=%d: %v", purchaseID, err)
	}
}

func toStateOutput(p model.Purchase, o *model.EscrowOrder) PurchaseStateOutput {
	d := buildDeadlineInfo(p, o)
	state := model.DeriveState(p, o)
	return PurchaseStateOutput{
		PurchaseID: p.ID,
		Projection: ProjectState(state, d, protectionEligible(p, o)),
		Deadlines:  d,
	}
}

func buildDeadlineInfo(p model.Purchase, o *model.EscrowOrder) DeadlineInfo {
	d := DeadlineInfo{
		PaymentDeadline:       p.PaymentDeadline,
		ContactDeadlineMissed: p.ContactDeadlineMissed,
		PaymentDeadlineMissed: p.PaymentDeadlineMissed,
	}
	if !p.ContactDeadline.IsZero() {
		cd := p.ContactDeadline
		d.ContactDeadline = &cd
	}
	if o != nil {
		d.AutoReleaseAt = o.AutoReleaseAt
	}
	return d
}

// 保護決済（ゲートウェイ経由）で支払えるのは、まだどの経路でも支払っていない取引だけ。
func protectionEligible(p model.Purchase, o *model.EscrowOrder) bool {
	return o == nil && !p.Paid && !p.PaymentConfirmed
}

package model

import "time"

// エスクロー操作、異議解決など。
type AuditAction string

const (
	//エスクローをreleaseした操作。
	AuditActionReleaseEscrow AuditAction = "RELEASE_ESCROW"
	//エスクローをholdした操作。
	AuditActionHoldEscrow AuditAction = "HOLD_ESCROW"
	//エスクローをrefundした操作。
	AuditActionRefundEscrow AuditAction = "REFUND_ESCROW"
	//異議申し立てを解決した操作。
	AuditActionResolveDispute AuditAction = "RESOLVE_DISPUTE"
	//取引をキャンセルした操作。
	AuditActionCancelPurchase AuditAction = "CANCEL_PURCHASE"
)

// 何に対する操作か
type AuditResourceType string

const (
	//取引に対する操作。
	AuditResourcePurchase AuditResourceType = "purchase"

	//エスクロー注文に対する操作。
	AuditResourceEscrowOrder AuditResourceType = "escrow_order"
)

// 監査ログ（管理者操作ログ）。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	//IDは監査ログの主キー
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作した管理者のID。
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	//Actionは操作の種類（RELEASE_ESCROW / RESOLVE_DISPUTE など）。
	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	//対象の種類（purchase / escrow_order）。
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	//対象のID。
	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

package model

import "time"

type EscrowPaymentStatus string

const (
	EscrowStatusCreated           EscrowPaymentStatus = "created"
	EscrowStatusPaid              EscrowPaymentStatus = "paid"
	EscrowStatusPendingOnboarding EscrowPaymentStatus = "release_pending_onboarding"
	EscrowStatusOnHold            EscrowPaymentStatus = "on_hold"
	EscrowStatusReleased          EscrowPaymentStatus = "released"
	EscrowStatusRefunded          EscrowPaymentStatus = "refunded"
)

// 決済ゲートウェイから見て、これ以上動かせない状態か。
func (s EscrowPaymentStatus) Terminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// あんしん決済（エスクロー）の注文。
// 決済保護が有効でゲートウェイがチャージを確保した取引にだけ存在する。
// 金銭の真実はこちらが持ち、PurchaseのPaymentConfirmedはキャッシュ。
type EscrowOrder struct {
	ID         int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseID int64 `gorm:"not null;uniqueIndex" json:"purchase_id"`
	SellerID   int64 `gorm:"not null;index" json:"seller_id"`

	ItemPrice     int64 `gorm:"not null" json:"item_price"`
	ShippingCost  int64 `gorm:"not null;default:0" json:"shipping_cost"`
	PlatformFee   int64 `gorm:"not null;default:0" json:"platform_fee"`
	ProtectionFee int64 `gorm:"not null;default:0" json:"protection_fee"`
	TotalAmount   int64 `gorm:"not null" json:"total_amount"`

	PaymentStatus EscrowPaymentStatus `gorm:"type:varchar(40);not null;index" json:"payment_status"`

	// ゲートウェイ側の参照
	PaymentIntentID string `gorm:"type:varchar(255);index" json:"-"`
	ChargeID        string `gorm:"type:varchar(255)" json:"-"`
	TransferID      string `gorm:"type:varchar(255)" json:"-"`
	RefundID        string `gorm:"type:varchar(255)" json:"-"`

	HoldReason string `gorm:"type:text" json:"hold_reason,omitempty"`

	AutoReleaseAt *time.Time `gorm:"index" json:"auto_release_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

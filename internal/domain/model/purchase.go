package model

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusCancelled PurchaseStatus = "CANCELLED"
)

type DisputeStatus string

const (
	DisputeStatusNone     DisputeStatus = "NONE"
	DisputeStatusPending  DisputeStatus = "PENDING"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
)

// 取引（1回の売買につき1件）。
// ライフサイクルの現在地はカラムに持たず、DeriveStateで毎回導出する。
type Purchase struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID  int64 `gorm:"not null;index" json:"buyer_id"`
	SellerID int64 `gorm:"not null;index" json:"seller_id"`
	WatchID  int64 `gorm:"not null;index" json:"watch_id"`
	Price    int64 `gorm:"not null" json:"price"`

	Status       PurchaseStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CancelReason string         `gorm:"type:text" json:"cancel_reason,omitempty"`

	// 連絡期限まわり
	ContactDeadline       time.Time  `gorm:"not null" json:"contact_deadline"`
	SellerContactedAt     *time.Time `json:"seller_contacted_at,omitempty"`
	BuyerContactedAt      *time.Time `json:"buyer_contacted_at,omitempty"`
	ContactDeadlineMissed bool       `gorm:"not null;default:false" json:"contact_deadline_missed"`
	ContactWarningSentAt  *time.Time `json:"-"`

	// 支払いまわり（Paidは銀行振込パスの「支払った」申告）
	Paid                  bool       `gorm:"not null;default:false" json:"paid"`
	PaymentConfirmed      bool       `gorm:"not null;default:false" json:"payment_confirmed"`
	PaymentConfirmedAt    *time.Time `json:"payment_confirmed_at,omitempty"`
	PaymentDeadline       *time.Time `json:"payment_deadline,omitempty"`
	PaymentReminderSentAt *time.Time `json:"-"`
	PaymentDeadlineMissed bool       `gorm:"not null;default:false" json:"payment_deadline_missed"`

	// 配送・受け取りまわり
	ItemReceived     bool       `gorm:"not null;default:false" json:"item_received"`
	ItemReceivedAt   *time.Time `json:"item_received_at,omitempty"`
	TrackingNumber   string     `gorm:"type:varchar(100)" json:"tracking_number,omitempty"`
	TrackingProvider string     `gorm:"type:varchar(50)" json:"tracking_provider,omitempty"`
	ShippedAt        *time.Time `json:"shipped_at,omitempty"`

	// 異議申し立てまわり
	DisputeOpenedAt    *time.Time    `json:"dispute_opened_at,omitempty"`
	DisputeReason      string        `gorm:"type:varchar(100)" json:"dispute_reason,omitempty"`
	DisputeDescription string        `gorm:"type:text" json:"dispute_description,omitempty"`
	DisputeStatus      DisputeStatus `gorm:"type:varchar(20);not null;default:'NONE';index" json:"dispute_status"`
	DisputeResolvedAt  *time.Time    `json:"dispute_resolved_at,omitempty"`
	DisputeResolvedBy  *int64        `json:"dispute_resolved_by,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 連絡が一度でも成立しているか。
func (p Purchase) Contacted() bool {
	return p.SellerContactedAt != nil || p.BuyerContactedAt != nil
}

// 連絡成立時刻のうち遅い方。支払期限の起点になる。
func (p Purchase) LastContactedAt() *time.Time {
	if p.SellerContactedAt == nil {
		return p.BuyerContactedAt
	}
	if p.BuyerContactedAt == nil {
		return p.SellerContactedAt
	}
	if p.BuyerContactedAt.After(*p.SellerContactedAt) {
		return p.BuyerContactedAt
	}
	return p.SellerContactedAt
}

func (p Purchase) Terminal() bool {
	return p.Status == PurchaseStatusCompleted || p.Status == PurchaseStatusCancelled
}

package model

import "time"

type NotificationKind string

const (
	NotificationContactReminder NotificationKind = "CONTACT_REMINDER"
	NotificationPaymentReminder NotificationKind = "PAYMENT_REMINDER"
	NotificationDisputeOpened   NotificationKind = "DISPUTE_OPENED"
	NotificationDisputeResolved NotificationKind = "DISPUTE_RESOLVED"
	NotificationFundsReleased   NotificationKind = "FUNDS_RELEASED"
	NotificationFundsRefunded   NotificationKind = "FUNDS_REFUNDED"
)

// ユーザー向け通知の記録。配信自体はキュー側（infra/notifier）がやる。
type Notification struct {
	ID         int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64            `gorm:"not null;index" json:"user_id"`
	PurchaseID int64            `gorm:"not null;index" json:"purchase_id"`
	Kind       NotificationKind `gorm:"type:varchar(40);not null" json:"kind"`
	Message    string           `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
}

package notifier

import "time"

const (
	TaskContactReminder = "purchase:contact_reminder"
	TaskPaymentReminder = "purchase:payment_reminder"
	TaskDisputeOpened   = "purchase:dispute_opened"
	TaskDisputeResolved = "purchase:dispute_resolved"
	TaskFundsReleased   = "escrow:funds_released"
	TaskFundsRefunded   = "escrow:funds_refunded"
)

// キューに積むペイロード。宛先の解決はワーカー側でやる。
type PurchaseEventPayload struct {
	PurchaseID int64     `json:"purchase_id"`
	BuyerID    int64     `json:"buyer_id"`
	SellerID   int64     `json:"seller_id"`
	Amount     int64     `json:"amount,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

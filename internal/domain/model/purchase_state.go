package model

type PurchaseState string

const (
	StateContactPending   PurchaseState = "CONTACT_PENDING"
	StatePaymentPending   PurchaseState = "PAYMENT_PENDING"
	StatePaymentConfirmed PurchaseState = "PAYMENT_CONFIRMED"
	StateShipped          PurchaseState = "SHIPPED"
	StateReceiptPending   PurchaseState = "RECEIPT_PENDING"
	StateReceiptConfirmed PurchaseState = "RECEIPT_CONFIRMED"
	StateCompleted        PurchaseState = "COMPLETED"
	StateDisputeOpen      PurchaseState = "DISPUTE_OPEN"
	StateCancelled        PurchaseState = "CANCELLED"
)

func (s PurchaseState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// EffectivePaymentConfirmed は「実質支払い済みか」の唯一の導出点。
// エスクロー注文があるときはそちらが真実で、Purchase側のフラグと矛盾させない。
func EffectivePaymentConfirmed(p Purchase, o *EscrowOrder) bool {
	if p.PaymentConfirmed {
		return true
	}
	if o == nil {
		return false
	}
	switch o.PaymentStatus {
	case EscrowStatusPaid, EscrowStatusPendingOnboarding, EscrowStatusOnHold, EscrowStatusReleased:
		return true
	}
	return false
}

// DeriveState は取引の現在状態を導出する純粋関数。
// 優先順位つきの先勝ち評価で、同じレコードからは常に同じ状態が出る。
// 状態はカラムとして保存しない（保存するとここと食い違う）。
func DeriveState(p Purchase, o *EscrowOrder) PurchaseState {
	paid := EffectivePaymentConfirmed(p, o)

	switch {
	case p.Status == PurchaseStatusCancelled:
		return StateCancelled
	case p.DisputeOpenedAt != nil && p.DisputeStatus == DisputeStatusPending:
		return StateDisputeOpen
	case p.Status == PurchaseStatusCompleted || (p.ItemReceived && paid):
		return StateCompleted
	case p.ItemReceived:
		return StateReceiptConfirmed
	case p.TrackingNumber != "" || p.ShippedAt != nil:
		return StateReceiptPending
	case paid || p.Paid:
		return StateShipped
	case paid:
		return StatePaymentConfirmed
	case p.Contacted():
		return StatePaymentPending
	default:
		return StateContactPending
	}
}

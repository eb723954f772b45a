package gateway

import "context"

// 決済ゲートウェイへの送金・返金依頼。
// IdempotencyKeyは(注文, 操作)単位で固定し、リトライしても二重送金にならないようにする。
type TransferInput struct {
	OrderID        int64
	SellerID       int64
	Amount         int64
	IdempotencyKey string
	Reason         string
}

type TransferResult struct {
	TransferID string
}

type RefundInput struct {
	OrderID        int64
	ChargeID       string
	Amount         int64
	IdempotencyKey string
	Reason         string
}

type RefundResult struct {
	RefundID string
}

// PaymentGatewayは資金移動を担う外部コラボレーター。
// 呼び出しは失敗したらそのまま返す。楽観的に成功扱いしてはいけない。
type PaymentGateway interface {
	CreateTransfer(ctx context.Context, in TransferInput) (TransferResult, error)
	CreateRefund(ctx context.Context, in RefundInput) (RefundResult, error)
}

// 出品者の振込先口座設定が完了しているかを返す。
type PayoutOnboardingProvider interface {
	PayoutReady(ctx context.Context, sellerID int64) (bool, error)
}

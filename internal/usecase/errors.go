package usecase

import (
	"errors"
	"fmt"

	"app/internal/domain/model"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 間違ったロールでのコマンド実行。
var ErrUnauthorizedActor = errors.New("unauthorized actor")

// 終端状態（COMPLETED / CANCELLED）や前提を満たさない状態へのコマンド。
type InvalidStateTransitionError struct {
	Command string
	State   model.PurchaseState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Command, e.State)
}

// released / refunded のエスクロー注文への操作。黙って成功扱いにしない。
type InvalidEscrowTransitionError struct {
	Op      string
	OrderID int64
	Status  model.EscrowPaymentStatus
}

func (e *InvalidEscrowTransitionError) Error() string {
	return fmt.Sprintf("escrow %s not allowed for order %d in status %s", e.Op, e.OrderID, e.Status)
}

// 解決済みの異議申し立てを再度解決しようとした。
type AlreadyResolvedError struct {
	PurchaseID int64
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("dispute for purchase %d already resolved", e.PurchaseID)
}

// 銀行振込の取引（エスクロー注文なし）への返金要求。
type NoCapturedPaymentError struct {
	PurchaseID int64
}

func (e *NoCapturedPaymentError) Error() string {
	return fmt.Sprintf("no captured payment for purchase %d", e.PurchaseID)
}

// ゲートウェイ呼び出しの失敗。リトライ可能で、状態は一切進めていない。
type ExternalGatewayError struct {
	Op      string
	OrderID int64
	Err     error
}

func (e *ExternalGatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed for order %d: %v", e.Op, e.OrderID, e.Err)
}

func (e *ExternalGatewayError) Unwrap() error {
	return e.Err
}

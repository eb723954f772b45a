package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gw "app/internal/gateway"

	"github.com/google/uuid"
)

// HTTPGateway は決済ゲートウェイのREST APIクライアント。
// Idempotency-Keyヘッダを必ず付ける（ゲートウェイ側で重複実行を弾かせる）。
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type transferRequest struct {
	OrderID  int64  `json:"order_id"`
	SellerID int64  `json:"seller_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
}

type refundRequest struct {
	OrderID  int64  `json:"order_id"`
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
}

type payoutStatusResponse struct {
	PayoutsEnabled bool `json:"payouts_enabled"`
}

func (g *HTTPGateway) CreateTransfer(ctx context.Context, in gw.TransferInput) (gw.TransferResult, error) {
	var res transferResponse
	err := g.post(ctx, "/v1/transfers", in.IdempotencyKey, transferRequest{
		OrderID:  in.OrderID,
		SellerID: in.SellerID,
		Amount:   in.Amount,
		Reason:   in.Reason,
	}, &res)
	if err != nil {
		return gw.TransferResult{}, err
	}
	return gw.TransferResult{TransferID: res.TransferID}, nil
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, in gw.RefundInput) (gw.RefundResult, error) {
	var res refundResponse
	err := g.post(ctx, "/v1/refunds", in.IdempotencyKey, refundRequest{
		OrderID:  in.OrderID,
		ChargeID: in.ChargeID,
		Amount:   in.Amount,
		Reason:   in.Reason,
	}, &res)
	if err != nil {
		return gw.RefundResult{}, err
	}
	return gw.RefundResult{RefundID: res.RefundID}, nil
}

func (g *HTTPGateway) PayoutReady(ctx context.Context, sellerID int64) (bool, error) {
	url := fmt.Sprintf("%s/v1/accounts/%d/payout-status", g.baseURL, sellerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	g.setHeaders(req, "")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("gateway: payout status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("gateway: payout status %d: %s", resp.StatusCode, string(body))
	}

	var res payoutStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, fmt.Errorf("gateway: decode payout status: %w", err)
	}
	return res.PayoutsEnabled, nil
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	g.setHeaders(req, idempotencyKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway: %s status %d: %s", path, resp.StatusCode, string(rb))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", path, err)
	}
	return nil
}

func (g *HTTPGateway) setHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	//障害調査用のトレースID
	req.Header.Set("X-Request-ID", uuid.NewString())
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
}

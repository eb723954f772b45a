package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"app/internal/config"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済ゲートウェイからのイベント受け口。
// JWTではなくHMAC署名で認証する（ゲートウェイはユーザーではないので）。
type WebhookHandler struct {
	uc     *usecase.WebhookUsecase
	secret string
}

func NewWebhookHandler(uc *usecase.WebhookUsecase, cfg config.Config) *WebhookHandler {
	return &WebhookHandler{uc: uc, secret: cfg.GatewayWebhookSecret}
}

// イベント封筒。typeで中身を出し分ける。
type WebhookEventRequest struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payment *PaymentPayload `json:"payment,omitempty"`
	Account *AccountPayload `json:"account,omitempty"`
}

type PaymentPayload struct {
	PurchaseID      int64  `json:"purchase_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	ChargeID        string `json:"charge_id"`
	ItemPrice       int64  `json:"item_price"`
	ShippingCost    int64  `json:"shipping_cost"`
	PlatformFee     int64  `json:"platform_fee"`
	ProtectionFee   int64  `json:"protection_fee"`
	TotalAmount     int64  `json:"total_amount"`
}

type AccountPayload struct {
	SellerID       int64 `json:"seller_id"`
	PayoutsEnabled bool  `json:"payouts_enabled"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/payment", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//署名検証。失敗したら中身は見ない。
	sig := c.Request().Header.Get("X-Gateway-Signature")
	if !h.verifySignature(body, sig) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
	}

	var req WebhookEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	ctx := c.Request().Context()
	switch req.Type {
	case "payment.succeeded":
		if req.Payment == nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payment payload required"})
		}
		err = h.uc.HandlePaymentSucceeded(ctx, usecase.PaymentSucceededInput{
			EventID:         req.EventID,
			PurchaseID:      req.Payment.PurchaseID,
			PaymentIntentID: req.Payment.PaymentIntentID,
			ChargeID:        req.Payment.ChargeID,
			ItemPrice:       req.Payment.ItemPrice,
			ShippingCost:    req.Payment.ShippingCost,
			PlatformFee:     req.Payment.PlatformFee,
			ProtectionFee:   req.Payment.ProtectionFee,
			TotalAmount:     req.Payment.TotalAmount,
		})
	case "payout.onboarding_updated":
		if req.Account == nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "account payload required"})
		}
		err = h.uc.HandleOnboardingStatusChanged(ctx, usecase.OnboardingStatusChangedInput{
			EventID:        req.EventID,
			SellerID:       req.Account.SellerID,
			PayoutsEnabled: req.Account.PayoutsEnabled,
		})
	default:
		//知らないイベントは受領だけして捨てる（ゲートウェイの再送を止めるため2xx）
		return c.JSON(http.StatusOK, SuccessResponse{Message: "ignored"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "ok"})
}

func (h *WebhookHandler) verifySignature(body []byte, sig string) bool {
	if h.secret == "" || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

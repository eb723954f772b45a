package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// usecaseの型付きエラーをHTTPステータスへ写す。
// ゲートウェイ起因(502)と業務ルール違反(4xx)は管理画面で見分けられるように分ける。
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	var invalidState *usecase.InvalidStateTransitionError
	if errors.As(err, &invalidState) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: invalidState.Error()})
	}
	var invalidEscrow *usecase.InvalidEscrowTransitionError
	if errors.As(err, &invalidEscrow) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: invalidEscrow.Error()})
	}
	var alreadyResolved *usecase.AlreadyResolvedError
	if errors.As(err, &alreadyResolved) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: alreadyResolved.Error()})
	}
	var noPayment *usecase.NoCapturedPaymentError
	if errors.As(err, &noPayment) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: noPayment.Error()})
	}
	var gatewayErr *usecase.ExternalGatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: gatewayErr.Error()})
	}
	if errors.Is(err, usecase.ErrUnauthorizedActor) {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

//middleware.AuthJWT が c.Set("user_id", int64) した値を取り出す

func getUserIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(middleware.CtxUserIDKey)
	if v == nil {
		return 0, false
	}

	id, ok := v.(int64)
	if !ok {
		return 0, false
	}

	return id, true
}

func paramID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// /purchases の当事者向けAPI
type PurchaseHandler struct {
	uc *usecase.PurchaseUsecase
}

func NewPurchaseHandler(uc *usecase.PurchaseUsecase) *PurchaseHandler {
	return &PurchaseHandler{uc: uc}
}

type PurchaseCreateRequest struct {
	BuyerID  int64 `json:"buyer_id"`
	SellerID int64 `json:"seller_id"`
	WatchID  int64 `json:"watch_id"`
	Price    int64 `json:"price"`
}

type ShipRequest struct {
	TrackingNumber   string `json:"tracking_number"`
	TrackingProvider string `json:"tracking_provider"`
}

type DisputeRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (h *PurchaseHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/purchases")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
	g.GET("/:id/state", h.state)
	g.POST("/:id/contacted", h.markContacted)
	g.POST("/:id/pay", h.pay)
	g.POST("/:id/confirm-payment", h.confirmPayment)
	g.POST("/:id/ship", h.ship)
	g.POST("/:id/receipt", h.confirmReceipt)
	g.POST("/:id/dispute", h.openDispute)
}

func (h *PurchaseHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PurchaseCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//買い手本人の購入だけ受け付ける
	if req.BuyerID == 0 {
		req.BuyerID = userID
	}
	if req.BuyerID != userID {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	}

	out, err := h.uc.CreatePurchase(c.Request().Context(), usecase.CreatePurchaseInput{
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		WatchID:  req.WatchID,
		Price:    req.Price,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *PurchaseHandler) state(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.GetPurchaseState(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PurchaseHandler) markContacted(c echo.Context) error {
	return h.command(c, h.uc.MarkContacted)
}

func (h *PurchaseHandler) pay(c echo.Context) error {
	return h.command(c, h.uc.MarkPaid)
}

func (h *PurchaseHandler) confirmPayment(c echo.Context) error {
	return h.command(c, h.uc.ConfirmPayment)
}

func (h *PurchaseHandler) confirmReceipt(c echo.Context) error {
	return h.command(c, h.uc.ConfirmReceipt)
}

func (h *PurchaseHandler) ship(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req ShipRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.MarkShipped(c.Request().Context(), userID, id, req.TrackingNumber, req.TrackingProvider)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PurchaseHandler) openDispute(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req DisputeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.OpenDispute(c.Request().Context(), userID, id, req.Reason, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// command は「actor + 取引ID」だけ取るコマンドの共通形。
func (h *PurchaseHandler) command(c echo.Context, fn func(ctx context.Context, actorID, purchaseID int64) (usecase.PurchaseStateOutput, error)) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := fn(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

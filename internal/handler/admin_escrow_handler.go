package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/middleware"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 管理者向け：エスクロー操作・異議解決・強制キャンセル・監査ログ閲覧
type AdminEscrowHandler struct {
	escrow    *usecase.EscrowUsecase
	dispute   *usecase.DisputeUsecase
	purchases *usecase.PurchaseUsecase
	auditRepo repo.AuditLogRepository
}

func NewAdminEscrowHandler(
	escrow *usecase.EscrowUsecase,
	dispute *usecase.DisputeUsecase,
	purchases *usecase.PurchaseUsecase,
	auditRepo repo.AuditLogRepository,
) *AdminEscrowHandler {
	return &AdminEscrowHandler{
		escrow:    escrow,
		dispute:   dispute,
		purchases: purchases,
		auditRepo: auditRepo,
	}
}

type EscrowActionRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution     string `json:"resolution"`
	RefundBuyer    bool   `json:"refund_buyer"`
	RefundSeller   bool   `json:"refund_seller"`
	CancelPurchase bool   `json:"cancel_purchase"`
}

type CancelPurchaseRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminEscrowHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/admin")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.AdminRoleGuard())

	g.POST("/escrow-orders/:id/release", h.release)
	g.POST("/escrow-orders/:id/hold", h.hold)
	g.POST("/escrow-orders/:id/refund", h.refund)
	g.POST("/purchases/:id/resolve-dispute", h.resolveDispute)
	g.POST("/purchases/:id/cancel", h.cancelPurchase)
	g.GET("/audit-logs", h.listAuditLogs)
}

func (h *AdminEscrowHandler) release(c echo.Context) error {
	return h.escrowAction(c, h.escrow.Release)
}

func (h *AdminEscrowHandler) hold(c echo.Context) error {
	return h.escrowAction(c, h.escrow.Hold)
}

func (h *AdminEscrowHandler) refund(c echo.Context) error {
	return h.escrowAction(c, h.escrow.Refund)
}

func (h *AdminEscrowHandler) escrowAction(c echo.Context, fn func(ctx context.Context, adminID, orderID int64, reason string) error) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req EscrowActionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	if err := fn(c.Request().Context(), adminID, id, req.Reason); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "ok"})
}

func (h *AdminEscrowHandler) resolveDispute(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req ResolveDisputeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	err := h.dispute.Resolve(c.Request().Context(), adminID, id, usecase.ResolveDisputeInput{
		Resolution:     req.Resolution,
		RefundBuyer:    req.RefundBuyer,
		RefundSeller:   req.RefundSeller,
		CancelPurchase: req.CancelPurchase,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "resolved"})
}

func (h *AdminEscrowHandler) cancelPurchase(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	id, ok := paramID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req CancelPurchaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if req.Reason == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reason required"})
	}

	out, err := h.purchases.AdminCancel(c.Request().Context(), adminID, id, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminEscrowHandler) listAuditLogs(c echo.Context) error {
	var filter repo.AuditLogFilter

	if v := c.QueryParam("actor_user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid actor_user_id"})
		}
		filter.ActorUserID = &id
	}
	if v := c.QueryParam("action"); v != "" {
		a := model.AuditAction(v)
		filter.Action = &a
	}
	if v := c.QueryParam("resource_type"); v != "" {
		rt := model.AuditResourceType(v)
		filter.ResourceType = &rt
	}
	if v := c.QueryParam("resource_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid resource_id"})
		}
		filter.ResourceID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from"})
		}
		filter.CreatedFrom = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to"})
		}
		filter.CreatedTo = &t
	}
	filter.Limit = 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset"})
		}
		filter.Offset = n
	}

	logs, err := h.auditRepo.List(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}

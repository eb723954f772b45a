package server

import (
	"net/http"

	"app/internal/config"

	"github.com/labstack/echo/v4"
)

func registerRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	h.Purchase.RegisterRoutes(e, cfg)
	h.AdminEscrow.RegisterRoutes(e, cfg)
	h.Notification.RegisterRoutes(e, cfg)
	h.Webhook.RegisterRoutes(e)
}

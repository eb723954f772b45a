package server

import (
	"app/internal/config"
	"app/internal/handler"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Handlers struct {
	Purchase     *handler.PurchaseHandler
	AdminEscrow  *handler.AdminEscrowHandler
	Webhook      *handler.WebhookHandler
	Notification *handler.NotificationHandler
}

// New はechoを組み立てて返す。起動はmain側でe.Start。
func New(cfg config.Config, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Debug = cfg.GoEnv == "dev"

	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	if cfg.FEURL != "" {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     []string{cfg.FEURL},
			AllowCredentials: true,
		}))
	}

	registerRoutes(e, cfg, h)
	return e
}

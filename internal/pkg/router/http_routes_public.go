package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Social OAuth
	app.Get("/auth/:provider", gothfiber.BeginAuthHandler)
	app.Get("/auth/:provider/callback", h.deps.Auth.HandleOAuthCallback)
	app.Post("/logout", middleware.RequireAPISessionAuth, h.deps.Auth.HandleLogout)
}

func (h HttpRouter) registerMetricsRoutes(app *fiber.App) {
	mc := h.deps.Config.Metrics
	if mc.Password == "" {
		log.Warnf("[Metrics] METRICS_PASSWORD is empty, /metrics is disabled")
		return
	}

	metrics := app.Group("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			mc.User: mc.Password,
		},
	}))
	metrics.Get("/", monitor.New())
	metrics.Get("/billing", h.deps.Billing.HandleBillingMetrics)
	metrics.Delete("/billing", h.deps.Billing.HandleResetBillingMetrics)
}

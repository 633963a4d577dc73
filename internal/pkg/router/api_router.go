package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/session"
)

const limiterRedisDB = 3

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	bc := h.deps.Billing

	// Processor webhooks: no session, no rate limit, signature-verified in the controller
	app.Post("/api/webhooks/creem", bc.HandleCreemWebhook)

	v1 := app.Group("/api/v1", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    session.NewRedisStorage(h.deps.Config.Cache, limiterRedisDB),
	}))
	v1.Get("/plans", bc.HandleListPlans)
	v1.Get("/subscription", middleware.RequireAPISessionAuth, bc.HandleGetSubscription)
	v1.Post("/checkout", middleware.RequireAPISessionAuth, bc.HandleCreateCheckout)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

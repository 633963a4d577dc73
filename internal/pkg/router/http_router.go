package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/oauth"
	"github.com/ManuelReschke/PayFox/internal/pkg/session"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	cfg := h.deps.Config

	// init session
	if session.GetSessionStore() == nil {
		session.NewSessionStore(cfg.Cache, !cfg.IsDev())
	}

	// init oauth providers
	oauth.Setup(cfg)

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerMetricsRoutes(app)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

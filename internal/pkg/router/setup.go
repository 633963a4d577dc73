package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the constructed controllers the routers mount.
type Deps struct {
	Config  *config.Config
	Billing *controllers.BillingController
	Auth    *controllers.AuthController
}

func InstallRouter(app *fiber.App, deps Deps) {
	// HttpRouter installs the UserContext middleware the API routes rely on,
	// so it has to go first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

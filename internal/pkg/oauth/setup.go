package oauth

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/github"
	"github.com/markbates/goth/providers/google"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	appsession "github.com/ManuelReschke/PayFox/internal/pkg/session"
)

// Setup registers the configured Goth providers and moves the OAuth state
// store into Redis. Providers without credentials are skipped.
func Setup(cfg *config.Config) {
	base := cfg.PublicBaseURL()

	var providers []goth.Provider
	if cfg.OAuth.GoogleKey != "" {
		providers = append(providers, google.New(
			cfg.OAuth.GoogleKey,
			cfg.OAuth.GoogleSecret,
			base+"/auth/google/callback",
			"email", "profile",
		))
	}
	if cfg.OAuth.GitHubKey != "" {
		providers = append(providers, github.New(
			cfg.OAuth.GitHubKey,
			cfg.OAuth.GitHubSecret,
			base+"/auth/github/callback",
			"user:email",
		))
	}
	if len(providers) == 0 {
		log.Warnf("[OAuth] No login provider configured, /auth routes will fail")
	}
	goth.UseProviders(providers...)

	gothfiber.SessionStore = session.New(session.Config{
		Storage:        appsession.NewRedisStorage(cfg.Cache, appsession.OAuthStateDB),
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !cfg.IsDev(),
		Expiration:     time.Hour,
	})
}

package main

import (
	"context"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/archive"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	app := NewApplication(cfg)
	log.Fatal(app.Listen(cfg.ListenAddr()))
}

func NewApplication(cfg *config.Config) *fiber.App {
	database.SetupDatabase(cfg.Database)
	rdb := cache.SetupCache(cfg.Cache)
	outcomes := counter.NewWebhookCounter(rdb)

	opts := []billing.Option{
		billing.WithCatalog(billing.NewCatalog(cfg.Creem.ProductIDPro, cfg.Creem.ProductIDEnterprise, cfg.Billing.DefaultCurrency)),
		billing.WithCheckoutCreator(billing.NewCreemClient(cfg.Creem.APIKey, cfg.Creem.APIBaseURL)),
		billing.WithOutcomeRecorder(outcomes),
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.NewClient(context.Background(), cfg.Archive, cfg.App.Env)
		if err != nil {
			// the archive is best-effort; the webhook endpoint works without it
			log.Errorf("[Archive] Disabled: %v", err)
		} else {
			opts = append(opts, billing.WithArchiver(archiver))
		}
	}
	if cfg.Creem.WebhookSecret == "" {
		log.Warnf("[Webhook] CREEM_WEBHOOK_SECRET is empty, deliveries will be answered with 500")
	}

	svc := billing.NewServiceFromDB(database.GetDB(), billing.Settings{
		WebhookSecret:     cfg.Creem.WebhookSecret,
		RequireSignature:  cfg.Billing.RequireSignature,
		EnforceEventOrder: cfg.Billing.EnforceEventOrder,
		DefaultPriceCents: cfg.Billing.DefaultPriceCents,
		DefaultCurrency:   cfg.Billing.DefaultCurrency,
		PublicBaseURL:     cfg.PublicBaseURL(),
	}, opts...)

	app := fiber.New(fiber.Config{
		AppName:   "PayFox",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if openAPIFile := findOpenAPIFile(); openAPIFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: openAPIFile,
			Path:     "v1",
		}))
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Config:  cfg,
		Billing: controllers.NewBillingController(svc, outcomes),
		Auth:    controllers.NewAuthController(repository.NewFactory(database.GetDB()).GetUserRepository()),
	})

	return app
}

func findOpenAPIFile() string {
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/payfox to project root
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	log.Warnf("openapi.yml not found, /docs/api/v1 is disabled")
	return ""
}

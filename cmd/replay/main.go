// Command replay re-applies webhook deliveries that were acknowledged but
// failed to persist, either by inbox row id or from the payload archive.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/archive"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
)

const usage = `Usage:
  go run cmd/replay/main.go <webhook-event-id> [<webhook-event-id>...]
  go run cmd/replay/main.go --from-archive <object-key> [<object-key>...]`

func main() {
	env.SetupEnvFile()

	args := os.Args[1:]
	fromArchive := len(args) > 0 && args[0] == "--from-archive"
	if fromArchive {
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	database.SetupDatabase(cfg.Database)

	svc := billing.NewServiceFromDB(database.GetDB(), billing.Settings{
		RequireSignature:  cfg.Billing.RequireSignature,
		EnforceEventOrder: cfg.Billing.EnforceEventOrder,
		DefaultPriceCents: cfg.Billing.DefaultPriceCents,
		DefaultCurrency:   cfg.Billing.DefaultCurrency,
	},
		billing.WithCatalog(billing.NewCatalog(cfg.Creem.ProductIDPro, cfg.Creem.ProductIDEnterprise, cfg.Billing.DefaultCurrency)),
		billing.WithOutcomeRecorder(counter.NewWebhookCounter(cache.SetupCache(cfg.Cache))),
	)

	var failed int
	if fromArchive {
		client, err := archive.NewClient(context.Background(), cfg.Archive, cfg.App.Env)
		if err != nil {
			log.Fatalf("Webhook archive unavailable: %v", err)
		}
		failed = replayArchived(svc, client, args)
	} else {
		failed = replayInbox(svc, args)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func replayInbox(svc *billing.Service, args []string) int {
	failed := 0
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			log.Errorf("Invalid webhook event id %q", arg)
			failed++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := svc.Replay(ctx, uint(id))
		cancel()
		if err != nil {
			log.Errorf("Replay of %d failed: %v", id, err)
			failed++
			continue
		}
		fmt.Printf("%d: %s\n", id, res)
		if !res.OK() {
			failed++
		}
	}
	return failed
}

func replayArchived(svc *billing.Service, client *archive.Client, keys []string) int {
	failed := 0
	for _, key := range keys {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		payload, err := client.Fetch(ctx, key)
		if err != nil {
			cancel()
			log.Errorf("Fetching %s failed: %v", key, err)
			failed++
			continue
		}
		res, err := svc.ReplayPayload(ctx, payload)
		cancel()
		if err != nil {
			log.Errorf("Replay of %s failed: %v", key, err)
			failed++
			continue
		}
		fmt.Printf("%s: %s\n", key, res)
		if !res.OK() {
			failed++
		}
	}
	return failed
}

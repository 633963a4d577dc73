package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

// OutcomeSnapshotter reads and clears the webhook outcome counters.
type OutcomeSnapshotter interface {
	Snapshot(ctx context.Context) ([]counter.OutcomeCount, error)
	Reset(ctx context.Context) error
}

type BillingController struct {
	svc      *billing.Service
	counters OutcomeSnapshotter
	validate *validator.Validate
}

func NewBillingController(svc *billing.Service, counters OutcomeSnapshotter) *BillingController {
	return &BillingController{
		svc:      svc,
		counters: counters,
		validate: validator.New(),
	}
}

// HandleCreemWebhook receives processor events. The body is copied before
// anything else touches it so the signature is checked over the exact bytes.
func (bc *BillingController) HandleCreemWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, billing.SignatureHeaders...)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := bc.svc.ProcessWebhook(ctx, billing.Delivery{Payload: rawBody, Signature: signature})
	status, body := webhookResponse(err)
	return c.Status(status).JSON(body)
}

// webhookResponse is the only place deciding what the processor sees.
func webhookResponse(err error) (int, fiber.Map) {
	switch {
	case err == nil:
		return fiber.StatusOK, fiber.Map{"received": true}
	case errors.Is(err, billing.ErrSignatureInvalid):
		return fiber.StatusUnauthorized, fiber.Map{"error": "invalid_signature"}
	case errors.Is(err, billing.ErrConfiguration):
		return fiber.StatusInternalServerError, fiber.Map{"error": "webhook_not_configured"}
	default:
		// not produced by ProcessWebhook today; acknowledge so the processor stops retrying
		log.Errorf("[Webhook] Unexpected error acknowledged: %v", err)
		return fiber.StatusOK, fiber.Map{"received": true}
	}
}

// HandleListPlans returns the plan catalog.
func (bc *BillingController) HandleListPlans(c *fiber.Ctx) error {
	plans := bc.svc.Catalog().Plans()
	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, fiber.Map{
			"id":          p.ID,
			"name":        p.Name,
			"product_id":  p.ProductID,
			"price_cents": p.PriceCents,
			"price":       money.FormatCents(p.PriceCents),
			"currency":    p.Currency,
			"interval":    p.Interval,
			"features":    p.Features,
			"available":   p.Available(),
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

type checkoutRequest struct {
	Plan       string `json:"plan" validate:"required,oneof=pro enterprise"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// HandleCreateCheckout opens a checkout for the logged-in user and returns the redirect URL.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	req.Plan = strings.ToLower(strings.TrimSpace(req.Plan))
	if err := bc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	session, err := bc.svc.CreateCheckout(ctx, billing.CheckoutInput{
		UserID:     userCtx.UserID,
		Email:      userCtx.Email,
		PlanID:     req.Plan,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrUnknownPlan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_plan"})
	case errors.Is(err, billing.ErrConfiguration):
		log.Errorf("[Billing] Checkout for user %s not possible: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "billing_not_configured"})
	default:
		log.Errorf("[Billing] Checkout for user %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
	}

	return c.JSON(fiber.Map{
		"checkout_id":  session.ID,
		"checkout_url": session.URL,
	})
}

// HandleGetSubscription returns the billing state of the logged-in user.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := bc.svc.Subscription(ctx, userCtx.UserID)
	if errors.Is(err, billing.ErrNotFound) {
		return c.JSON(fiber.Map{
			"active":       false,
			"plan":         entitlements.PlanFree,
			"subscription": nil,
		})
	}
	if err != nil {
		log.Errorf("[Billing] Loading subscription of user %s failed: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	now := time.Now()
	return c.JSON(fiber.Map{
		"active":       sub.IsActiveAt(now),
		"plan":         entitlements.Effective(sub, now),
		"subscription": sub,
	})
}

// HandleBillingMetrics returns the webhook outcome counters.
func (bc *BillingController) HandleBillingMetrics(c *fiber.Ctx) error {
	if bc.counters == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "metrics_unavailable"})
	}
	counts, err := bc.counters.Snapshot(c.Context())
	if err != nil {
		log.Errorf("[Billing] Reading webhook counters failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"webhook_outcomes": counts})
}

// HandleResetBillingMetrics clears the webhook outcome counters.
func (bc *BillingController) HandleResetBillingMetrics(c *fiber.Ctx) error {
	if bc.counters == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "metrics_unavailable"})
	}
	if err := bc.counters.Reset(c.Context()); err != nil {
		log.Errorf("[Billing] Resetting webhook counters failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	log.Infof("[Metrics] Webhook outcome counters reset")
	return c.SendStatus(fiber.StatusNoContent)
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
)

// Apply dispatches a parsed event to its reconciliation handler.
func (s *Service) Apply(ctx context.Context, ev Event) Result {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, e)
	case CheckoutFailed:
		return s.applyCheckoutFailed(ctx, e)
	case SubscriptionCanceled:
		return s.applySubscriptionCanceled(ctx, e)
	default:
		meta := ev.Meta()
		log.Infof("[Billing] Unhandled event type %q (%s)", meta.Type, eventKey(meta))
		return Ignored(fmt.Errorf("unhandled event type %q", meta.Type))
	}
}

// applyCheckoutCompleted marks the payment succeeded and activates the user's
// subscription. The two steps are independent: a missing payment row does
// not prevent the subscription upsert and vice versa.
func (s *Service) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) Result {
	userID := e.Data.Metadata.UserID()
	if userID == "" {
		log.Warnf("[Billing] Completed checkout %s (event %s) has no metadata.user_id, skipping", e.Data.ID, eventKey(e.Envelope))
		return Failed(ErrMissingUserIdentity)
	}
	now := s.now().UTC()
	eventAt := eventTime(e.Envelope, e.Data.CreatedAt)

	var errs []error
	var paymentID *string
	if e.Data.PaymentID != "" {
		pid := e.Data.PaymentID
		paymentID = &pid
	}
	if err := s.markPayment(ctx, e.Data.ID, models.PaymentStatusSucceeded, paymentID, now); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, err)
	}

	lastEventAt := s.lastEventAt(ctx, userID)
	if s.settings.EnforceEventOrder && isBefore(eventAt, lastEventAt) {
		log.Warnf("[Billing] Completed checkout %s for user %s is older than the last applied event, subscription left unchanged", e.Data.ID, userID)
		if len(errs) > 0 {
			return Failed(errors.Join(errs...))
		}
		return Ignored(ErrStaleEvent)
	}

	start := now
	if e.Data.CreatedAt != nil {
		start = e.Data.CreatedAt.UTC()
	}
	end := AddMonthClamped(start)
	if eventAt != nil {
		lastEventAt = eventAt
	}

	price := s.settings.DefaultPriceCents
	if e.Data.AmountCents != nil {
		price = *e.Data.AmountCents
	}
	currency := s.settings.DefaultCurrency
	if e.Data.Currency != "" {
		currency = e.Data.Currency
	}

	sub := &models.Subscription{
		UserID:                  userID,
		ProcessorSubscriptionID: e.Data.SubscriptionID,
		PlanID:                  s.plans.resolvePlanID(e.Data.Metadata),
		Status:                  models.SubscriptionStatusActive,
		PriceAmountCents:        price,
		PriceCurrency:           currency,
		BillingCycle:            models.BillingCycleMonthly,
		CurrentPeriodStart:      start,
		CurrentPeriodEnd:        &end,
		CancelAtPeriodEnd:       false,
		CanceledAt:              nil,
		Metadata:                subscriptionMetadata(e.Data),
		LastEventAt:             lastEventAt,
		UpdatedAt:               now,
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		log.Errorf("[Billing] Upserting subscription for user %s (event %s, %s) failed: %v", userID, eventKey(e.Envelope), e.Type, err)
		errs = append(errs, fmt.Errorf("%w: upsert subscription for user %s: %v", ErrPersistence, userID, err))
	}

	if len(errs) > 0 {
		return Failed(errors.Join(errs...))
	}
	log.Infof("[Billing] Subscription of user %s active until %s", userID, end.Format(time.RFC3339))
	return Applied()
}

func (s *Service) applyCheckoutFailed(ctx context.Context, e CheckoutFailed) Result {
	err := s.markPayment(ctx, e.Data.ID, models.PaymentStatusFailed, nil, s.now().UTC())
	switch {
	case err == nil:
		return Applied()
	case errors.Is(err, ErrNotFound):
		return Ignored(err)
	default:
		return Failed(err)
	}
}

func (s *Service) applySubscriptionCanceled(ctx context.Context, e SubscriptionCanceled) Result {
	sub, err := s.findSubscriptionToCancel(ctx, e)
	if errors.Is(err, ErrNotFound) {
		log.Warnf("[Billing] Cancellation for unknown subscription %q (user %q), nothing to do", e.Data.ID, e.Data.Metadata.UserID())
		return Ignored(err)
	}
	if err != nil {
		log.Errorf("[Billing] Looking up subscription %q for cancellation (event %s) failed: %v", e.Data.ID, eventKey(e.Envelope), err)
		return Failed(fmt.Errorf("%w: find subscription %s: %v", ErrPersistence, e.Data.ID, err))
	}

	now := s.now().UTC()
	eventAt := eventTime(e.Envelope, e.Data.CreatedAt)
	if s.settings.EnforceEventOrder && isBefore(eventAt, sub.LastEventAt) {
		log.Warnf("[Billing] Cancellation of subscription %d is older than the last applied event, ignoring", sub.ID)
		return Ignored(ErrStaleEvent)
	}

	if err := s.repo.CancelSubscription(ctx, sub.ID, now, eventAt); err != nil {
		log.Errorf("[Billing] Canceling subscription %d of user %s (event %s) failed: %v", sub.ID, sub.UserID, eventKey(e.Envelope), err)
		return Failed(fmt.Errorf("%w: cancel subscription %d: %v", ErrPersistence, sub.ID, err))
	}
	log.Infof("[Billing] Subscription %d of user %s canceled", sub.ID, sub.UserID)
	return Applied()
}

// findSubscriptionToCancel matches on the processor subscription id. Only an
// event without one falls back to metadata.user_id, so a redelivered cancel
// for a replaced subscription never touches the user's current one.
func (s *Service) findSubscriptionToCancel(ctx context.Context, e SubscriptionCanceled) (*models.Subscription, error) {
	if e.Data.ID != "" {
		return s.repo.GetSubscriptionByProcessorID(ctx, e.Data.ID)
	}
	if userID := e.Data.Metadata.UserID(); userID != "" {
		return s.repo.GetSubscriptionByUserID(ctx, userID)
	}
	return nil, ErrNotFound
}

// markPayment moves the payment of a checkout session to status. It returns
// ErrNotFound (logged) when no such payment exists.
func (s *Service) markPayment(ctx context.Context, checkoutSessionID, status string, processorPaymentID *string, now time.Time) error {
	if checkoutSessionID == "" {
		log.Warnf("[Billing] Event without checkout session id, payment not updated")
		return ErrNotFound
	}
	payment, err := s.repo.GetPaymentByCheckoutSessionID(ctx, checkoutSessionID)
	if errors.Is(err, ErrNotFound) {
		log.Warnf("[Billing] No payment for checkout session %s, status %s not recorded", checkoutSessionID, status)
		return ErrNotFound
	}
	if err != nil {
		log.Errorf("[Billing] Loading payment for checkout session %s failed: %v", checkoutSessionID, err)
		return fmt.Errorf("%w: load payment %s: %v", ErrPersistence, checkoutSessionID, err)
	}

	if err := s.repo.UpdatePayment(ctx, payment.ID, PaymentUpdate{
		Status:             status,
		ProcessorPaymentID: processorPaymentID,
		UpdatedAt:          now,
	}); err != nil {
		log.Errorf("[Billing] Updating payment %d (checkout %s) to %s failed: %v", payment.ID, checkoutSessionID, status, err)
		return fmt.Errorf("%w: update payment %s: %v", ErrPersistence, checkoutSessionID, err)
	}
	return nil
}

// lastEventAt returns the processor timestamp of the last event applied to
// the user's subscription. Lookup failures yield nil.
func (s *Service) lastEventAt(ctx context.Context, userID string) *time.Time {
	existing, err := s.repo.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warnf("[Billing] Ordering check for user %s skipped: %v", userID, err)
		}
		return nil
	}
	return existing.LastEventAt
}

// isBefore reports whether eventAt predates last. Without both timestamps
// there is nothing to order.
func isBefore(eventAt, last *time.Time) bool {
	return eventAt != nil && last != nil && eventAt.Before(*last)
}

// eventTime is the processor's timestamp for an event: envelope created_at,
// then data.created_at. Nil when the processor sent neither.
func eventTime(env Envelope, dataCreatedAt *time.Time) *time.Time {
	var t time.Time
	switch {
	case env.CreatedAt != nil:
		t = env.CreatedAt.UTC()
	case dataCreatedAt != nil:
		t = dataCreatedAt.UTC()
	default:
		return nil
	}
	return &t
}

func subscriptionMetadata(d CheckoutData) map[string]any {
	md := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	set("checkout_session_id", d.ID)
	set("user_email", firstNonEmpty(d.Metadata.String("user_email"), d.CustomerEmail))
	set("payment_method", d.PaymentMethod)
	set("product_id", d.Metadata.String("product_id"))
	return md
}

package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// Settings is the billing slice of the process configuration.
type Settings struct {
	WebhookSecret     string
	RequireSignature  bool
	EnforceEventOrder bool
	DefaultPriceCents int64
	DefaultCurrency   string
	PublicBaseURL     string
}

// PayloadArchiver stores raw verified payloads outside the database.
type PayloadArchiver interface {
	ArchiveWebhook(ctx context.Context, key string, receivedAt time.Time, payload []byte) error
}

// OutcomeRecorder counts webhook outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome string) error
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Payload   []byte
	Signature string
}

// Service reconciles processor events into payments and subscriptions and
// opens checkout sessions.
type Service struct {
	repo     Repository
	settings Settings
	plans    *Catalog
	checkout CheckoutCreator
	archive  PayloadArchiver
	metrics  OutcomeRecorder
	now      func() time.Time
}

type Option func(*Service)

func WithCatalog(c *Catalog) Option { return func(s *Service) { s.plans = c } }

func WithCheckoutCreator(c CheckoutCreator) Option { return func(s *Service) { s.checkout = c } }

func WithArchiver(a PayloadArchiver) Option { return func(s *Service) { s.archive = a } }

func WithOutcomeRecorder(r OutcomeRecorder) Option { return func(s *Service) { s.metrics = r } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, settings Settings, opts ...Option) *Service {
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = "USD"
	}
	s := &Service{
		repo:     repo,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.plans == nil {
		s.plans = NewCatalog("", "", settings.DefaultCurrency)
	}
	return s
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, settings Settings, opts ...Option) *Service {
	return NewService(NewRepository(db), settings, opts...)
}

func (s *Service) Catalog() *Catalog { return s.plans }

// ProcessWebhook runs one delivery through signature check, parsing and
// reconciliation. The returned error is non-nil only when the delivery must
// be rejected: ErrConfiguration or ErrSignatureInvalid. Every other outcome,
// including malformed bodies and failed store writes, is acknowledged.
func (s *Service) ProcessWebhook(ctx context.Context, d Delivery) (Result, error) {
	if strings.TrimSpace(s.settings.WebhookSecret) == "" {
		log.Errorf("[Webhook] CREEM_WEBHOOK_SECRET is not configured, rejecting delivery")
		s.countOutcome(ctx, "config_error")
		return Failed(ErrConfiguration), ErrConfiguration
	}

	if strings.TrimSpace(d.Signature) == "" {
		if s.settings.RequireSignature {
			log.Warnf("[Webhook] Unsigned delivery rejected")
			s.countOutcome(ctx, "signature_invalid")
			return Failed(ErrSignatureInvalid), ErrSignatureInvalid
		}
		log.Warnf("[Webhook] Unsigned delivery accepted (signature not enforced)")
	} else if !VerifySignature(d.Payload, d.Signature, s.settings.WebhookSecret) {
		log.Warnf("[Webhook] Signature mismatch, rejecting delivery (%d bytes)", len(d.Payload))
		s.countOutcome(ctx, "signature_invalid")
		return Failed(ErrSignatureInvalid), ErrSignatureInvalid
	}

	signed := strings.TrimSpace(d.Signature) != ""
	receivedAt := s.now().UTC()
	ev, err := ParseEvent(d.Payload)
	if err != nil {
		log.Warnf("[Webhook] Ignoring malformed event: %v", err)
		res := Failed(err)
		inbox := s.recordDelivery(ctx, Envelope{Raw: d.Payload}, signed)
		s.finishDelivery(ctx, inbox, res)
		s.countOutcome(ctx, "malformed")
		return res, nil
	}

	meta := ev.Meta()
	inbox := s.recordDelivery(ctx, meta, signed)
	if signed {
		s.archivePayload(ctx, meta, receivedAt)
	}

	res := s.Apply(ctx, ev)
	s.finishDelivery(ctx, inbox, res)
	s.countOutcome(ctx, string(res.Outcome))

	if res.Outcome == OutcomeFailed {
		log.Errorf("[Webhook] Event %s (%s) failed: %v", eventKey(meta), meta.Type, res.Reason)
	} else {
		log.Infof("[Webhook] Event %s (%s) %s", eventKey(meta), meta.Type, res)
	}
	return res, nil
}

// Replay re-applies a stored inbox event, skipping the signature step. Rows
// accepted unsigned are refused while signatures are required.
func (s *Service) Replay(ctx context.Context, webhookEventID uint) (Result, error) {
	if webhookEventID == 0 {
		return Result{}, errors.New("webhook_event_id is required")
	}
	stored, err := s.repo.GetWebhookEvent(ctx, webhookEventID)
	if err != nil {
		return Result{}, err
	}
	if !stored.SignatureValid {
		if s.settings.RequireSignature {
			log.Warnf("[Webhook] Inbox event %d arrived unsigned, replay refused while signatures are required", stored.ID)
			s.countOutcome(ctx, "replay_signature_invalid")
			return Failed(ErrSignatureInvalid), ErrSignatureInvalid
		}
		log.Warnf("[Webhook] Replaying unsigned inbox event %d", stored.ID)
	}

	ev, err := ParseEvent([]byte(stored.PayloadJSON))
	if err != nil {
		res := Failed(err)
		s.finishDelivery(ctx, stored, res)
		return res, nil
	}

	res := s.Apply(ctx, ev)
	s.finishDelivery(ctx, stored, res)
	s.countOutcome(ctx, "replay_"+string(res.Outcome))
	log.Infof("[Webhook] Replayed inbox event %d (%s): %s", stored.ID, stored.EventType, res)
	return res, nil
}

// ReplayPayload re-applies a raw payload read back from the archive. Only
// signed deliveries are archived, so the signature step is skipped.
func (s *Service) ReplayPayload(ctx context.Context, payload []byte) (Result, error) {
	ev, err := ParseEvent(payload)
	if err != nil {
		return Failed(err), err
	}
	meta := ev.Meta()
	res := s.Apply(ctx, ev)
	s.countOutcome(ctx, "replay_"+string(res.Outcome))
	log.Infof("[Webhook] Replayed archived event %s (%s): %s", eventKey(meta), meta.Type, res)
	return res, nil
}

// HasActiveSubscription reports whether the user has an active, unexpired subscription.
func (s *Service) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	sub, err := s.Subscription(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.IsActiveAt(s.now()), nil
}

// Subscription returns the stored subscription of a user or ErrNotFound.
func (s *Service) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("user_id is required")
	}
	return s.repo.GetSubscriptionByUserID(ctx, uid)
}

// CheckoutInput describes a checkout opened by a logged-in user.
type CheckoutInput struct {
	UserID     string
	Email      string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// CreateCheckout opens a processor checkout and records a pending payment.
// A failed payment insert is logged but does not block the checkout.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: no checkout client", ErrConfiguration)
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	plan, ok := s.plans.Get(in.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, in.PlanID)
	}
	if !plan.Available() {
		return nil, fmt.Errorf("%w: plan %q has no product id", ErrConfiguration, plan.ID)
	}

	successURL := strings.TrimSpace(in.SuccessURL)
	if successURL == "" {
		successURL = fmt.Sprintf("%s/subscribe/success?plan=%s&checkout_id={CHECKOUT_ID}", s.settings.PublicBaseURL, url.QueryEscape(string(plan.ID)))
	}
	cancelURL := strings.TrimSpace(in.CancelURL)
	if cancelURL == "" {
		cancelURL = fmt.Sprintf("%s/subscribe?plan=%s&canceled=true", s.settings.PublicBaseURL, url.QueryEscape(string(plan.ID)))
	}

	session, err := s.checkout.CreateCheckout(ctx, CheckoutRequest{
		ProductID:     plan.ProductID,
		CustomerEmail: strings.TrimSpace(in.Email),
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata: map[string]string{
			"user_id":    userID,
			"user_email": strings.TrimSpace(in.Email),
			"plan":       string(plan.ID),
			"product_id": plan.ProductID,
		},
	})
	if err != nil {
		return nil, err
	}

	amount := s.settings.DefaultPriceCents
	if session.AmountCents != nil {
		amount = *session.AmountCents
	}
	currency := s.settings.DefaultCurrency
	if session.Currency != "" {
		currency = session.Currency
	}
	payment := &models.Payment{
		UserID:            userID,
		CheckoutSessionID: session.ID,
		AmountCents:       amount,
		Currency:          currency,
		Status:            models.PaymentStatusPending,
		Metadata: map[string]any{
			"checkout_session_id": session.ID,
			"product_id":          plan.ProductID,
			"plan":                string(plan.ID),
			"user_email":          strings.TrimSpace(in.Email),
		},
		UpdatedAt: s.now().UTC(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		log.Errorf("[Billing] Recording pending payment for checkout %s failed: %v", session.ID, err)
	}

	log.Infof("[Billing] Checkout %s opened for user %s (plan %s)", session.ID, userID, plan.ID)
	return session, nil
}

func (s *Service) recordDelivery(ctx context.Context, meta Envelope, signed bool) *models.BillingWebhookEvent {
	stored, err := s.repo.RecordWebhookEvent(ctx, &models.BillingWebhookEvent{
		Provider:        models.BillingProviderCreem,
		ProviderEventID: eventKey(meta),
		EventType:       meta.Type,
		PayloadJSON:     string(meta.Raw),
		SignatureValid:  signed,
	})
	if err != nil {
		log.Errorf("[Webhook] Recording inbox row for %s failed: %v", eventKey(meta), err)
		return nil
	}
	if stored.DeliveryCount > 1 {
		log.Infof("[Webhook] Redelivery #%d of %s, re-applying", stored.DeliveryCount, stored.ProviderEventID)
	}
	return stored
}

func (s *Service) finishDelivery(ctx context.Context, stored *models.BillingWebhookEvent, res Result) {
	if stored == nil {
		return
	}
	msg := ""
	if res.Outcome == OutcomeFailed && res.Reason != nil {
		msg = res.Reason.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, stored.ID, msg); err != nil {
		log.Errorf("[Webhook] Marking inbox row %d processed failed: %v", stored.ID, err)
	}
}

func (s *Service) archivePayload(ctx context.Context, meta Envelope, receivedAt time.Time) {
	if s.archive == nil {
		return
	}
	if err := s.archive.ArchiveWebhook(ctx, eventKey(meta), receivedAt, meta.Raw); err != nil {
		log.Warnf("[Archive] Archiving %s failed: %v", eventKey(meta), err)
	}
}

func (s *Service) countOutcome(ctx context.Context, outcome string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordOutcome(ctx, outcome); err != nil {
		log.Warnf("[Webhook] Counting outcome %s failed: %v", outcome, err)
	}
}

// eventKey is the inbox deduplication key: the processor event id, or a
// content hash when the processor sent none.
func eventKey(meta Envelope) string {
	if id := strings.TrimSpace(meta.ID); id != "" {
		return id
	}
	sum := sha256.Sum256(meta.Raw)
	return "hash:" + hex.EncodeToString(sum[:])
}

package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

type Kind string

const (
	KindCheckoutCompleted    Kind = "checkout_completed"
	KindCheckoutFailed       Kind = "checkout_failed"
	KindSubscriptionCanceled Kind = "subscription_canceled"
	KindUnknown              Kind = "unknown"
)

// eventAliases maps processor event type strings onto the internal kinds.
var eventAliases = map[string]Kind{
	"checkout.session.completed": KindCheckoutCompleted,
	"checkout.completed":         KindCheckoutCompleted,
	"payment.succeeded":          KindCheckoutCompleted,
	"checkout.session.expired":   KindCheckoutFailed,
	"checkout.failed":            KindCheckoutFailed,
	"payment.failed":             KindCheckoutFailed,
	"subscription.canceled":      KindSubscriptionCanceled,
}

// KindOf resolves a raw event type string.
func KindOf(eventType string) Kind {
	if k, ok := eventAliases[strings.TrimSpace(eventType)]; ok {
		return k
	}
	return KindUnknown
}

// Envelope carries the delivery-level fields shared by every event.
type Envelope struct {
	ID        string
	Type      string
	CreatedAt *time.Time
	Raw       []byte
}

// Event is one of CheckoutCompleted, CheckoutFailed, SubscriptionCanceled or Unknown.
type Event interface {
	Kind() Kind
	Meta() Envelope
}

// Metadata is the opaque key/value object attached by the checkout flow.
type Metadata map[string]any

// String returns a metadata value as text. Numbers keep their literal form.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func (m Metadata) UserID() string { return m.String("user_id") }

type CheckoutData struct {
	ID             string
	PaymentID      string
	SubscriptionID string
	AmountCents    *int64
	Currency       string
	CreatedAt      *time.Time
	CustomerEmail  string
	PaymentMethod  string
	Metadata       Metadata
}

type SubscriptionData struct {
	ID        string
	CreatedAt *time.Time
	Metadata  Metadata
}

type CheckoutCompleted struct {
	Envelope
	Data CheckoutData
}

type CheckoutFailed struct {
	Envelope
	Data CheckoutData
}

type SubscriptionCanceled struct {
	Envelope
	Data SubscriptionData
}

// Unknown keeps the raw payload of an unrecognized event type.
type Unknown struct {
	Envelope
}

func (e CheckoutCompleted) Kind() Kind    { return KindCheckoutCompleted }
func (e CheckoutFailed) Kind() Kind       { return KindCheckoutFailed }
func (e SubscriptionCanceled) Kind() Kind { return KindSubscriptionCanceled }
func (e Unknown) Kind() Kind              { return KindUnknown }

func (e CheckoutCompleted) Meta() Envelope    { return e.Envelope }
func (e CheckoutFailed) Meta() Envelope       { return e.Envelope }
func (e SubscriptionCanceled) Meta() Envelope { return e.Envelope }
func (e Unknown) Meta() Envelope              { return e.Envelope }

type wireEnvelope struct {
	ID        json.RawMessage `json:"id"`
	Type      json.RawMessage `json:"type"`
	CreatedAt json.RawMessage `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type wireCheckoutData struct {
	ID             json.RawMessage `json:"id"`
	PaymentID      json.RawMessage `json:"payment_id"`
	SubscriptionID json.RawMessage `json:"subscription_id"`
	Amount         json.RawMessage `json:"amount"`
	Currency       json.RawMessage `json:"currency"`
	CreatedAt      json.RawMessage `json:"created_at"`
	CustomerEmail  json.RawMessage `json:"customer_email"`
	PaymentMethod  json.RawMessage `json:"payment_method"`
	Metadata       json.RawMessage `json:"metadata"`
}

type wireSubscriptionData struct {
	ID        json.RawMessage `json:"id"`
	CreatedAt json.RawMessage `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// ParseEvent decodes a raw webhook body into one of the event variants.
// Structural failures wrap ErrMalformedEvent. Optional fields that cannot be
// decoded are logged and left empty so their defaults apply.
func ParseEvent(payload []byte) (Event, error) {
	var env wireEnvelope
	if err := decodeObject(payload, &env); err != nil {
		return nil, malformed("envelope: %v", err)
	}

	eventType, err := rawText(env.Type)
	if err != nil || eventType == "" {
		return nil, malformed("type is required")
	}
	if !isObject(env.Data) {
		return nil, malformed("data must be an object")
	}
	id, err := rawText(env.ID)
	if err != nil {
		return nil, malformed("id: %v", err)
	}

	meta := Envelope{ID: id, Type: eventType, Raw: payload}
	meta.CreatedAt = optionalTime(meta, "created_at", env.CreatedAt)

	switch KindOf(eventType) {
	case KindCheckoutCompleted:
		data, err := parseCheckoutData(meta, env.Data)
		if err != nil {
			return nil, err
		}
		return CheckoutCompleted{Envelope: meta, Data: data}, nil
	case KindCheckoutFailed:
		data, err := parseCheckoutData(meta, env.Data)
		if err != nil {
			return nil, err
		}
		return CheckoutFailed{Envelope: meta, Data: data}, nil
	case KindSubscriptionCanceled:
		data, err := parseSubscriptionData(meta, env.Data)
		if err != nil {
			return nil, err
		}
		return SubscriptionCanceled{Envelope: meta, Data: data}, nil
	default:
		return Unknown{Envelope: meta}, nil
	}
}

// parseCheckoutData keeps identifiers and metadata strict. Every other field
// is best effort.
func parseCheckoutData(meta Envelope, raw json.RawMessage) (CheckoutData, error) {
	var w wireCheckoutData
	if err := decodeObject(raw, &w); err != nil {
		return CheckoutData{}, malformed("data: %v", err)
	}

	var out CheckoutData
	var err error
	if out.ID, err = rawText(w.ID); err != nil {
		return CheckoutData{}, malformed("data.id: %v", err)
	}
	if out.SubscriptionID, err = rawText(w.SubscriptionID); err != nil {
		return CheckoutData{}, malformed("data.subscription_id: %v", err)
	}
	if out.Metadata, err = rawMetadata(w.Metadata); err != nil {
		return CheckoutData{}, malformed("data.metadata: %v", err)
	}

	out.PaymentID = optionalText(meta, "data.payment_id", w.PaymentID)
	out.Currency = strings.ToUpper(optionalText(meta, "data.currency", w.Currency))
	out.CustomerEmail = optionalText(meta, "data.customer_email", w.CustomerEmail)
	out.PaymentMethod = optionalText(meta, "data.payment_method", w.PaymentMethod)
	out.AmountCents = optionalAmount(meta, "data.amount", w.Amount)
	out.CreatedAt = optionalTime(meta, "data.created_at", w.CreatedAt)
	return out, nil
}

func parseSubscriptionData(meta Envelope, raw json.RawMessage) (SubscriptionData, error) {
	var w wireSubscriptionData
	if err := decodeObject(raw, &w); err != nil {
		return SubscriptionData{}, malformed("data: %v", err)
	}

	var out SubscriptionData
	var err error
	if out.ID, err = rawText(w.ID); err != nil {
		return SubscriptionData{}, malformed("data.id: %v", err)
	}
	if out.Metadata, err = rawMetadata(w.Metadata); err != nil {
		return SubscriptionData{}, malformed("data.metadata: %v", err)
	}
	out.CreatedAt = optionalTime(meta, "data.created_at", w.CreatedAt)
	return out, nil
}

func optionalText(meta Envelope, field string, raw json.RawMessage) string {
	text, err := rawText(raw)
	if err != nil {
		log.Warnf("[Webhook] Ignoring %s of %s event %q: %v", field, meta.Type, meta.ID, err)
		return ""
	}
	return text
}

func optionalAmount(meta Envelope, field string, raw json.RawMessage) *int64 {
	cents, err := rawAmount(raw)
	if err != nil {
		log.Warnf("[Webhook] Ignoring %s of %s event %q, default applies: %v", field, meta.Type, meta.ID, err)
		return nil
	}
	return cents
}

func optionalTime(meta Envelope, field string, raw json.RawMessage) *time.Time {
	t, err := rawTime(raw)
	if err != nil {
		log.Warnf("[Webhook] Ignoring %s of %s event %q: %v", field, meta.Type, meta.ID, err)
		return nil
	}
	return t
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

func decodeObject(raw []byte, dst any) error {
	if !isObject(raw) {
		return fmt.Errorf("expected JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// rawText accepts a JSON string or number and returns it as text.
func rawText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string or number")
}

// rawAmount reads a decimal major-unit amount (number or numeric string).
func rawAmount(raw json.RawMessage) (*int64, error) {
	text, err := rawText(raw)
	if err != nil || text == "" {
		return nil, err
	}
	cents, err := money.ParseCents(text)
	if err != nil {
		return nil, err
	}
	return &cents, nil
}

// timeLayouts are tried in order for string timestamps. Zoneless layouts are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// rawTime accepts the timeLayouts strings and unix timestamps in seconds or
// milliseconds.
func rawTime(raw json.RawMessage) (*time.Time, error) {
	text, err := rawText(raw)
	if err != nil || text == "" {
		return nil, err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unsupported timestamp %q", text)
	}
	var t time.Time
	if n > 1e12 {
		t = time.UnixMilli(n).UTC()
	} else {
		t = time.Unix(n, 0).UTC()
	}
	return &t, nil
}

func rawMetadata(raw json.RawMessage) (Metadata, error) {
	if isNull(raw) {
		return Metadata{}, nil
	}
	var m map[string]any
	if err := decodeObject(raw, &m); err != nil {
		return nil, err
	}
	return Metadata(m), nil
}

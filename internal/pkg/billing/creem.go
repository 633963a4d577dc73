package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CheckoutRequest opens a hosted checkout page for one product.
type CheckoutRequest struct {
	ProductID     string            `json:"product_id"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

// CheckoutSession is what the processor returns for a created checkout.
type CheckoutSession struct {
	ID          string `json:"id"`
	URL         string `json:"checkout_url"`
	AmountCents *int64 `json:"-"`
	Currency    string `json:"currency,omitempty"`
}

// CheckoutCreator opens checkout sessions at the payment processor.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type CreemClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewCreemClient(apiKey, apiBaseURL string) *CreemClient {
	return &CreemClient{
		APIKey:     strings.TrimSpace(apiKey),
		APIBaseURL: strings.TrimRight(strings.TrimSpace(apiBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type creemCheckoutResponse struct {
	ID          string          `json:"id"`
	CheckoutID  string          `json:"checkout_id"`
	CheckoutURL string          `json:"checkout_url"`
	URL         string          `json:"url"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`
}

type creemErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *CreemClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (*CheckoutSession, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: CREEM_API_KEY is not set", ErrConfiguration)
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, errors.New("product_id is required")
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr creemErrorResponse
		if json.Unmarshal(body, &apiErr) == nil {
			if msg := firstNonEmpty(apiErr.Message, apiErr.Error); msg != "" {
				return nil, fmt.Errorf("creem checkout failed: status=%d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("creem checkout failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out creemCheckoutResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode creem checkout: %w", err)
	}

	session := &CheckoutSession{
		ID:       firstNonEmpty(out.ID, out.CheckoutID),
		URL:      firstNonEmpty(out.CheckoutURL, out.URL),
		Currency: strings.ToUpper(strings.TrimSpace(out.Currency)),
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("creem checkout response is missing id or url")
	}
	if amount, err := rawAmount(out.Amount); err == nil {
		session.AmountCents = amount
	}
	return session, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreemClientCreateCheckout(t *testing.T) {
	var got CheckoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkouts", r.URL.Path)
		assert.Equal(t, "key_123", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ch_1","checkout_url":"https://checkout.creem.io/ch_1","amount":29.00,"currency":"usd"}`))
	}))
	defer srv.Close()

	client := NewCreemClient("key_123", srv.URL+"/")
	session, err := client.CreateCheckout(context.Background(), CheckoutRequest{
		ProductID:     "prod_pro",
		CustomerEmail: "u1@example.com",
		SuccessURL:    "https://payfox.example/ok",
		CancelURL:     "https://payfox.example/cancel",
		Metadata:      map[string]string{"user_id": "u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ch_1", session.ID)
	assert.Equal(t, "https://checkout.creem.io/ch_1", session.URL)
	assert.Equal(t, "USD", session.Currency)
	require.NotNil(t, session.AmountCents)
	assert.Equal(t, int64(2900), *session.AmountCents)

	assert.Equal(t, "prod_pro", got.ProductID)
	assert.Equal(t, "u1@example.com", got.CustomerEmail)
	assert.Equal(t, "u1", got.Metadata["user_id"])
}

func TestCreemClientAlternateResponseFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"checkout_id":"ch_2","url":"https://checkout.creem.io/ch_2"}`))
	}))
	defer srv.Close()

	session, err := NewCreemClient("key", srv.URL).CreateCheckout(context.Background(), CheckoutRequest{ProductID: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "ch_2", session.ID)
	assert.Equal(t, "https://checkout.creem.io/ch_2", session.URL)
	assert.Nil(t, session.AmountCents)
}

func TestCreemClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"product not found"}`))
	}))
	defer srv.Close()

	_, err := NewCreemClient("key", srv.URL).CreateCheckout(context.Background(), CheckoutRequest{ProductID: "prod"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "product not found")

	_, err = NewCreemClient("", srv.URL).CreateCheckout(context.Background(), CheckoutRequest{ProductID: "prod"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewCreemClient("key", srv.URL).CreateCheckout(context.Background(), CheckoutRequest{})
	assert.Error(t, err)
}

func TestCreemClientRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ch_3"}`))
	}))
	defer srv.Close()

	_, err := NewCreemClient("key", srv.URL).CreateCheckout(context.Background(), CheckoutRequest{ProductID: "prod"})
	assert.Error(t, err)
}

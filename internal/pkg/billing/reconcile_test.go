package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepository, mutate ...func(*Settings)) *Service {
	settings := Settings{
		WebhookSecret:     testSecret,
		DefaultPriceCents: 450,
		DefaultCurrency:   "USD",
		PublicBaseURL:     "https://payfox.example",
	}
	for _, m := range mutate {
		m(&settings)
	}
	return NewService(repo, settings,
		WithCatalog(NewCatalog("prod_pro", "prod_ent", "USD")),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func mustParse(t *testing.T, body string) Event {
	t.Helper()
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)
	return ev
}

func TestCheckoutCompletedUpdatesPaymentAndActivatesSubscription(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{
		"id":"cs_1","payment_id":"pay_1","subscription_id":"sub_1","amount":10.00,"currency":"USD",
		"created_at":"2024-01-31T00:00:00Z","payment_method":"card",
		"metadata":{"user_id":"u1","user_email":"u1@example.com","product_id":"prod_ent"}}}`))
	require.Equal(t, OutcomeApplied, res.Outcome, res.String())

	p := repo.payment("cs_1")
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	require.NotNil(t, p.ProcessorPaymentID)
	assert.Equal(t, "pay_1", *p.ProcessorPaymentID)
	assert.Equal(t, fixedNow, p.UpdatedAt)

	sub := repo.subscription("u1")
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_1", sub.ProcessorSubscriptionID)
	assert.Equal(t, "enterprise", sub.PlanID)
	assert.Equal(t, int64(1000), sub.PriceAmountCents)
	assert.Equal(t, "USD", sub.PriceCurrency)
	assert.Equal(t, models.BillingCycleMonthly, sub.BillingCycle)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, "cs_1", sub.Metadata["checkout_session_id"])
	assert.Equal(t, "u1@example.com", sub.Metadata["user_email"])
	assert.Equal(t, "card", sub.Metadata["payment_method"])
}

func TestCheckoutCompletedDefaults(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"payment.succeeded","data":{"id":"cs_x","metadata":{"user_id":"u2"}}}`))
	assert.Equal(t, OutcomeApplied, res.Outcome)

	sub := repo.subscription("u2")
	require.NotNil(t, sub)
	assert.Equal(t, int64(450), sub.PriceAmountCents)
	assert.Equal(t, "USD", sub.PriceCurrency)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, fixedNow, sub.CurrentPeriodStart)
	assert.Equal(t, time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)
	assert.Empty(t, sub.ProcessorSubscriptionID)
}

func TestCheckoutCompletedUndecodableFieldsFallBackToDefaults(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{
		"id":"cs_1","amount":"ten","currency":{"code":"EUR"},"created_at":"last week",
		"metadata":{"user_id":"u1"}}}`))
	require.Equal(t, OutcomeApplied, res.Outcome, res.String())

	assert.Equal(t, models.PaymentStatusSucceeded, repo.payment("cs_1").Status)
	sub := repo.subscription("u1")
	require.NotNil(t, sub)
	assert.Equal(t, int64(450), sub.PriceAmountCents)
	assert.Equal(t, "USD", sub.PriceCurrency)
	assert.Equal(t, fixedNow, sub.CurrentPeriodStart)
}

func TestCheckoutCompletedNonLeapYearClamp(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","created_at":"2023-01-31T08:00:00Z","metadata":{"user_id":"u1"}}}`))

	sub := repo.subscription("u1")
	require.NotNil(t, sub)
	assert.Equal(t, time.Date(2023, 2, 28, 8, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)
}

func TestCheckoutCompletedReplayIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)
	ev := mustParse(t, `{"id":"evt_1","type":"checkout.completed","data":{"id":"cs_1","payment_id":"pay_1","subscription_id":"sub_1","amount":10.00,"created_at":"2024-01-31T00:00:00Z","metadata":{"user_id":"u1"}}}`)

	svc.Apply(context.Background(), ev)
	first := repo.subscription("u1")
	firstPayment := repo.payment("cs_1")

	for i := 0; i < 5; i++ {
		res := svc.Apply(context.Background(), ev)
		assert.Equal(t, OutcomeApplied, res.Outcome)
	}

	assert.Len(t, repo.subscriptions, 1)
	assert.Equal(t, first, repo.subscription("u1"))
	assert.Equal(t, firstPayment, repo.payment("cs_1"))
}

func TestCheckoutCompletedWithoutUserIDMutatesNothing(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","payment_id":"pay_1","metadata":{}}}`))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrMissingUserIdentity)

	assert.Equal(t, models.PaymentStatusPending, repo.payment("cs_1").Status)
	assert.Empty(t, repo.subscriptions)
	assert.Zero(t, repo.paymentUpdates)
}

func TestCheckoutCompletedStepsAreIndependent(t *testing.T) {
	t.Run("missing payment still activates subscription", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo)

		res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_unknown","metadata":{"user_id":"u1"}}}`))
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.NotNil(t, repo.subscription("u1"))
	})

	t.Run("payment write failure still activates subscription", func(t *testing.T) {
		repo := newFakeRepository()
		repo.seedPayment("u1", "cs_1")
		repo.failUpdatePayment = true
		svc := newTestService(repo)

		res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","metadata":{"user_id":"u1"}}}`))
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.ErrorIs(t, res.Reason, ErrPersistence)
		assert.NotNil(t, repo.subscription("u1"))
	})

	t.Run("subscription write failure still updates payment", func(t *testing.T) {
		repo := newFakeRepository()
		repo.seedPayment("u1", "cs_1")
		repo.failUpsert = true
		svc := newTestService(repo)

		res := svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","metadata":{"user_id":"u1"}}}`))
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.ErrorIs(t, res.Reason, ErrPersistence)
		assert.Equal(t, models.PaymentStatusSucceeded, repo.payment("cs_1").Status)
	})
}

func TestCheckoutFailedMarksPayment(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)

	for _, typ := range []string{"checkout.session.expired", "checkout.failed", "payment.failed"} {
		res := svc.Apply(context.Background(), mustParse(t, fmt.Sprintf(`{"type":%q,"data":{"id":"cs_1"}}`, typ)))
		assert.Equal(t, OutcomeApplied, res.Outcome, typ)
		assert.Equal(t, models.PaymentStatusFailed, repo.payment("cs_1").Status)
	}
	assert.Empty(t, repo.subscriptions)
}

func TestCheckoutFailedUnknownPaymentIsNoop(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"payment.failed","data":{"id":"cs_missing"}}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, repo.payments)
}

func TestSubscriptionCanceledByProcessorID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_1"}}`))
	require.Equal(t, OutcomeApplied, res.Outcome)

	sub := repo.subscription("u1")
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, fixedNow, *sub.CanceledAt)
}

func TestSubscriptionCanceledFallsBackToUserID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","metadata":{"user_id":"u1"}}}`))

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"subscription.canceled","data":{"metadata":{"user_id":"u1"}}}`))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.SubscriptionStatusCanceled, repo.subscription("u1").Status)
}

func TestSubscriptionCanceledUnmatchedIDIgnoresUserID(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_other","metadata":{"user_id":"u1"}}}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrNotFound)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("u1").Status)
	assert.Zero(t, repo.cancellations)
}

func TestRedeliveredCancelKeepsReplacementSubscription(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()
	cancel := mustParse(t, `{"id":"evt_cancel_1","type":"subscription.canceled","data":{"id":"sub_1","metadata":{"user_id":"u1"}}}`)

	svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
	require.Equal(t, OutcomeApplied, svc.Apply(ctx, cancel).Outcome)
	svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_2","subscription_id":"sub_2","metadata":{"user_id":"u1"}}}`))

	res := svc.Apply(ctx, cancel)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	sub := repo.subscription("u1")
	assert.Equal(t, "sub_2", sub.ProcessorSubscriptionID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, 1, repo.cancellations)
}

func TestSubscriptionCanceledUnknownIsNoop(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
	before := repo.subscription("u1")

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_nope"}}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrNotFound)
	assert.Equal(t, before, repo.subscription("u1"))
	assert.Zero(t, repo.cancellations)
}

func TestSubscriptionCanceledWriteFailure(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
	repo.failCancel = true

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_1"}}`))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrPersistence)
}

func TestCompletedAfterCancelReactivates(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
	svc.Apply(ctx, mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_1"}}`))
	svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_2","subscription_id":"sub_2","metadata":{"user_id":"u1"}}}`))

	sub := repo.subscription("u1")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_2", sub.ProcessorSubscriptionID)
	assert.Nil(t, sub.CanceledAt)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Len(t, repo.subscriptions, 1)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	repo := newFakeRepository()
	repo.seedPayment("u1", "cs_1")
	svc := newTestService(repo)

	res := svc.Apply(context.Background(), mustParse(t, `{"type":"refund.created","data":{"id":"cs_1","metadata":{"user_id":"u1"}}}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, models.PaymentStatusPending, repo.payment("cs_1").Status)
	assert.Empty(t, repo.subscriptions)
}

func TestEventOrderEnforcement(t *testing.T) {
	later := `{"type":"subscription.canceled","created_at":"2024-03-05T00:00:00Z","data":{"id":"sub_1"}}`
	earlier := `{"type":"checkout.completed","created_at":"2024-03-01T00:00:00Z","data":{"id":"cs_1","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`

	t.Run("disabled applies last write", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo)
		ctx := context.Background()

		svc.Apply(ctx, mustParse(t, earlier))
		svc.Apply(ctx, mustParse(t, later))
		res := svc.Apply(ctx, mustParse(t, earlier))

		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("u1").Status)
	})

	t.Run("enabled ignores stale completion", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })
		ctx := context.Background()

		svc.Apply(ctx, mustParse(t, earlier))
		svc.Apply(ctx, mustParse(t, later))
		res := svc.Apply(ctx, mustParse(t, earlier))

		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.ErrorIs(t, res.Reason, ErrStaleEvent)
		assert.Equal(t, models.SubscriptionStatusCanceled, repo.subscription("u1").Status)
	})

	t.Run("enabled ignores stale cancellation", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })
		ctx := context.Background()

		svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","created_at":"2024-03-06T00:00:00Z","data":{"id":"cs_2","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
		res := svc.Apply(ctx, mustParse(t, later))

		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Equal(t, models.SubscriptionStatusActive, repo.subscription("u1").Status)
	})

	t.Run("enabled replays of the same event still apply", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })
		ctx := context.Background()

		assert.Equal(t, OutcomeApplied, svc.Apply(ctx, mustParse(t, earlier)).Outcome)
		assert.Equal(t, OutcomeApplied, svc.Apply(ctx, mustParse(t, earlier)).Outcome)
	})

	t.Run("enabled without processor timestamps skips the check", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })
		ctx := context.Background()

		svc.Apply(ctx, mustParse(t, earlier))
		res := svc.Apply(ctx, mustParse(t, `{"type":"subscription.canceled","data":{"id":"sub_1"}}`))
		require.Equal(t, OutcomeApplied, res.Outcome)

		sub := repo.subscription("u1")
		require.NotNil(t, sub.LastEventAt)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *sub.LastEventAt)
	})

	t.Run("completion without timestamp keeps the stored event time", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })
		ctx := context.Background()

		svc.Apply(ctx, mustParse(t, earlier))
		res := svc.Apply(ctx, mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_2","subscription_id":"sub_1","metadata":{"user_id":"u1"}}}`))
		require.Equal(t, OutcomeApplied, res.Outcome)

		sub := repo.subscription("u1")
		require.NotNil(t, sub.LastEventAt)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *sub.LastEventAt)
		assert.Equal(t, fixedNow, sub.CurrentPeriodStart)
	})

	t.Run("first event without timestamp stores none", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, func(s *Settings) { s.EnforceEventOrder = true })

		svc.Apply(context.Background(), mustParse(t, `{"type":"checkout.completed","data":{"id":"cs_1","metadata":{"user_id":"u1"}}}`))
		assert.Nil(t, repo.subscription("u1").LastEventAt)
	})
}

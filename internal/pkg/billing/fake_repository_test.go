package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
)

var errStoreDown = errors.New("store down")

// fakeRepository is an in-memory Repository with switchable failures.
type fakeRepository struct {
	mu sync.Mutex

	payments      map[string]*models.Payment
	subscriptions map[string]*models.Subscription
	events        map[uint]*models.BillingWebhookEvent
	nextID        uint

	failCreatePayment   bool
	failUpdatePayment   bool
	failUpsert          bool
	failCancel          bool
	failRecordWebhook   bool
	upserts             int
	paymentUpdates      int
	cancellations       int
	processedWithErrors map[uint]string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		payments:            map[string]*models.Payment{},
		subscriptions:       map[string]*models.Subscription{},
		events:              map[uint]*models.BillingWebhookEvent{},
		processedWithErrors: map[uint]string{},
	}
}

func (r *fakeRepository) id() uint {
	r.nextID++
	return r.nextID
}

func (r *fakeRepository) CreatePayment(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreatePayment {
		return errStoreDown
	}
	if _, ok := r.payments[p.CheckoutSessionID]; ok {
		return errors.New("duplicate checkout_session_id")
	}
	cp := *p
	cp.ID = r.id()
	p.ID = cp.ID
	r.payments[p.CheckoutSessionID] = &cp
	return nil
}

func (r *fakeRepository) GetPaymentByCheckoutSessionID(_ context.Context, id string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepository) UpdatePayment(_ context.Context, id uint, u PaymentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdatePayment {
		return errStoreDown
	}
	for _, p := range r.payments {
		if p.ID == id {
			p.Status = u.Status
			p.UpdatedAt = u.UpdatedAt
			if u.ProcessorPaymentID != nil {
				v := *u.ProcessorPaymentID
				p.ProcessorPaymentID = &v
			}
			r.paymentUpdates++
		}
	}
	return nil
}

func (r *fakeRepository) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert {
		return errStoreDown
	}
	r.upserts++
	cp := *sub
	if existing, ok := r.subscriptions[sub.UserID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = r.id()
		cp.CreatedAt = sub.UpdatedAt
	}
	r.subscriptions[sub.UserID] = &cp
	*sub = cp
	return nil
}

func (r *fakeRepository) GetSubscriptionByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepository) GetSubscriptionByProcessorID(_ context.Context, processorID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscriptions {
		if s.ProcessorSubscriptionID == processorID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepository) CancelSubscription(_ context.Context, id uint, canceledAt time.Time, eventAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCancel {
		return errStoreDown
	}
	for _, s := range r.subscriptions {
		if s.ID == id {
			s.Status = models.SubscriptionStatusCanceled
			at := canceledAt
			s.CanceledAt = &at
			s.CancelAtPeriodEnd = true
			s.UpdatedAt = canceledAt
			if eventAt != nil {
				ev := *eventAt
				s.LastEventAt = &ev
			}
			r.cancellations++
		}
	}
	return nil
}

func (r *fakeRepository) RecordWebhookEvent(_ context.Context, e *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRecordWebhook {
		return nil, errStoreDown
	}
	for _, existing := range r.events {
		if existing.Provider == e.Provider && existing.ProviderEventID == e.ProviderEventID {
			existing.DeliveryCount++
			cp := *existing
			return &cp, nil
		}
	}
	cp := *e
	cp.ID = r.id()
	cp.DeliveryCount = 1
	r.events[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepository) GetWebhookEvent(_ context.Context, id uint) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	r.processedWithErrors[id] = processingError
	return nil
}

func (r *fakeRepository) subscription(userID string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[userID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *fakeRepository) payment(checkoutSessionID string) *models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[checkoutSessionID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *fakeRepository) seedPayment(userID, checkoutSessionID string) {
	_ = r.CreatePayment(context.Background(), &models.Payment{
		UserID:            userID,
		CheckoutSessionID: checkoutSessionID,
		AmountCents:       450,
		Currency:          "USD",
		Status:            models.PaymentStatusPending,
	})
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *fakeCounter) RecordOutcome(_ context.Context, outcome string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[outcome]++
	return nil
}

type fakeArchiver struct {
	keys []string
}

func (a *fakeArchiver) ArchiveWebhook(_ context.Context, key string, _ time.Time, _ []byte) error {
	a.keys = append(a.keys, key)
	return nil
}

package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Lookups
// return ErrNotFound when no row matches.
type Repository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, id uint, updates PaymentUpdate) error

	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	GetSubscriptionByProcessorID(ctx context.Context, processorSubscriptionID string) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, id uint, canceledAt time.Time, eventAt *time.Time) error

	RecordWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

// PaymentUpdate is the status transition applied to a payment row.
type PaymentUpdate struct {
	Status             string
	ProcessorPaymentID *string
	UpdatedAt          time.Time
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormRepository) GetPaymentByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("checkout_session_id = ?", checkoutSessionID).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *gormRepository) UpdatePayment(ctx context.Context, id uint, u PaymentUpdate) error {
	updates := map[string]interface{}{
		"status":     u.Status,
		"updated_at": u.UpdatedAt,
	}
	if u.ProcessorPaymentID != nil {
		updates["processor_payment_id"] = *u.ProcessorPaymentID
	}
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"processor_subscription_id",
			"plan_id",
			"status",
			"price_amount_cents",
			"price_currency",
			"billing_cycle",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"metadata",
			"last_event_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *gormRepository) GetSubscriptionByProcessorID(ctx context.Context, processorSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.WithContext(ctx).Where("processor_subscription_id = ?", processorSubscriptionID).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *gormRepository) CancelSubscription(ctx context.Context, id uint, canceledAt time.Time, eventAt *time.Time) error {
	updates := map[string]interface{}{
		"status":               models.SubscriptionStatusCanceled,
		"canceled_at":          canceledAt,
		"cancel_at_period_end": true,
		"updated_at":           canceledAt,
	}
	if eventAt != nil {
		updates["last_event_at"] = *eventAt
	}
	return r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

// RecordWebhookEvent inserts the inbox row or, for a redelivery, bumps its
// delivery counter. The stored row is returned either way.
func (r *gormRepository) RecordWebhookEvent(ctx context.Context, event *models.BillingWebhookEvent) (*models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	if event.DeliveryCount == 0 {
		event.DeliveryCount = 1
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"delivery_count": gorm.Expr("delivery_count + 1"),
		}),
	}).Create(event).Error; err != nil {
		return nil, err
	}

	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var e models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

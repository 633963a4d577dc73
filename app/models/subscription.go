package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

const BillingCycleMonthly = "monthly"

// Subscription is the single billing state row of a user. It is created by the
// first completed checkout and afterwards only overwritten, never duplicated.
type Subscription struct {
	ID                      uint           `gorm:"primaryKey" json:"id"`
	UserID                  string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_subscriptions_user" json:"user_id"`
	ProcessorSubscriptionID string         `gorm:"type:varchar(191);not null;default:'';index" json:"processor_subscription_id"`
	PlanID                  string         `gorm:"type:varchar(50);not null;default:'pro'" json:"plan_id"`
	Status                  string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	PriceAmountCents        int64          `gorm:"not null;default:0" json:"price_amount_cents"`
	PriceCurrency           string         `gorm:"type:varchar(3);not null;default:'USD'" json:"price_currency"`
	BillingCycle            string         `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	CurrentPeriodStart      time.Time      `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd        *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd       bool           `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CanceledAt              *time.Time     `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	Metadata                map[string]any `gorm:"serializer:json;type:json" json:"metadata,omitempty"`
	LastEventAt             *time.Time     `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// IsActiveAt reports whether the subscription entitles its user at t.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	if s == nil || s.Status != SubscriptionStatusActive {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(t)
}

package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment is one checkout attempt. Rows are created as pending when the
// checkout session is opened and only ever mutated by webhook reconciliation.
type Payment struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	UserID             string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	CheckoutSessionID  string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_checkout_session" json:"checkout_session_id"`
	ProcessorPaymentID *string        `gorm:"type:varchar(191);default:null;index" json:"processor_payment_id,omitempty"`
	AmountCents        int64          `gorm:"not null;default:0" json:"amount_cents"`
	Currency           string         `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status             string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Metadata           map[string]any `gorm:"serializer:json;type:json" json:"metadata,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

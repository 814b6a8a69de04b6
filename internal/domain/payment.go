package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentStatusCreated   = "created"
	PaymentStatusSucceeded = "succeeded"
)

// Payment records a Stripe PaymentIntent opened for a project and, once the webhook arrives,
// the event that confirmed it.
type Payment struct {
	ID                    uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StripePaymentIntentID string         `gorm:"column:stripe_payment_intent_id;uniqueIndex;not null" json:"stripe_payment_intent_id"`
	StripeEventID         *string        `gorm:"column:stripe_event_id;uniqueIndex" json:"stripe_event_id"`
	ProjectID             uuid.UUID      `gorm:"column:project_id;type:uuid;not null;index" json:"project_id"`
	PayerID               uuid.UUID      `gorm:"column:payer_id;type:uuid;not null" json:"payer_id"`
	AmountCents           int64          `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency              string         `gorm:"column:currency;not null" json:"currency"`
	Status                string         `gorm:"column:status;not null" json:"status"`
	RawPaymentIntent      datatypes.JSON `gorm:"column:raw_payment_intent" json:"raw_payment_intent"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

func (Payment) TableName() string {
	return "Payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

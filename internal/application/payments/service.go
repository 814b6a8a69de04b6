// Package payments connects the Stripe checkout and webhook to the project workflow. Stripe is
// the only caller allowed to confirm a payment.
package payments

import (
	"context"
	"errors"
	"fmt"

	"commissions-backend/internal/application/workflow"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metadata keys written on the PaymentIntent at checkout and read back by the webhook.
const (
	MetaProjectID = "project_id"
	MetaPayerID   = "payer_id"
)

// IntentParams describe a PaymentIntent to open.
type IntentParams struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the part of a created PaymentIntent the client needs.
type Intent struct {
	ID           string
	ClientSecret string
}

// IntentCreator opens PaymentIntents at the gateway.
type IntentCreator interface {
	CreateIntent(ctx context.Context, in IntentParams) (*Intent, error)
}

// Succeeded is a verified payment_intent.succeeded notification.
type Succeeded struct {
	EventID         string
	PaymentIntentID string
	AmountReceived  int64
	Currency        string
	Metadata        map[string]string
	Raw             []byte
}

type Service struct {
	DB       *gorm.DB
	Workflow *workflow.Service
	Intents  IntentCreator
	Currency string
}

// Checkout moves an accepted project to payment_pending and opens a PaymentIntent for the quoted
// price. Calling it again while payment is pending reuses the same idempotency key, so the
// gateway returns the same intent.
func (s *Service) Checkout(ctx context.Context, projectID uuid.UUID, actor domain.Actor) (*Intent, error) {
	if s.Intents == nil {
		return nil, fmt.Errorf("%w: payments are not configured", domain.ErrInvalidInput)
	}
	p, err := s.Workflow.Get(ctx, projectID, actor)
	if err != nil {
		return nil, err
	}
	if actor.UserID != p.ClientID {
		return nil, fmt.Errorf("%w: only the client pays for a project", domain.ErrUnauthorized)
	}
	if p.Status != domain.StatusAccepted && p.Status != domain.StatusPaymentPending {
		return nil, fmt.Errorf("%w: checkout is not possible in %s", domain.ErrInvalidTransition, p.Status)
	}
	cents := p.QuotedPrice.Shift(2)
	if !cents.IsInteger() || !cents.IsPositive() {
		return nil, fmt.Errorf("%w: quoted price %s is not payable in cents", domain.ErrInvalidInput, p.QuotedPrice)
	}
	if p.Status == domain.StatusAccepted {
		if p, err = s.Workflow.Transition(ctx, projectID, workflow.EventRequestPayment, actor, workflow.Payload{}); err != nil {
			return nil, err
		}
	}

	intent, err := s.Intents.CreateIntent(ctx, IntentParams{
		AmountCents:    cents.IntPart(),
		Currency:       s.currency(),
		IdempotencyKey: fmt.Sprintf("checkout-%s-%d", p.ProjectID, cents.IntPart()),
		Metadata: map[string]string{
			MetaProjectID: p.ProjectID.String(),
			MetaPayerID:   actor.UserID.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	rec := domain.Payment{
		StripePaymentIntentID: intent.ID,
		ProjectID:             p.ProjectID,
		PayerID:               actor.UserID,
		AmountCents:           cents.IntPart(),
		Currency:              s.currency(),
		Status:                domain.PaymentStatusCreated,
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "usd"
	}
	return s.Currency
}

// HandleSucceeded records the payment and confirms it on the project. Events without our metadata
// are ignored. A replayed event or intent confirms nothing twice.
func (s *Service) HandleSucceeded(ctx context.Context, ev Succeeded) error {
	projectID, err1 := uuid.Parse(ev.Metadata[MetaProjectID])
	payerID, err2 := uuid.Parse(ev.Metadata[MetaPayerID])
	if err1 != nil || err2 != nil {
		log.Info().Str("payment_intent", ev.PaymentIntentID).Msg("payments: intent without project metadata ignored")
		return nil
	}
	if ev.AmountReceived <= 0 {
		return fmt.Errorf("%w: amount received must be positive", domain.ErrInvalidInput)
	}

	if err := s.record(ctx, projectID, payerID, ev); err != nil {
		return err
	}
	amount := decimal.New(ev.AmountReceived, -2)
	_, err := s.Workflow.ConfirmPayment(ctx, projectID, amount, ev.PaymentIntentID, domain.Actor{UserID: payerID, Role: constants.Client})
	if err != nil {
		log.Warn().Err(err).
			Str("project_id", projectID.String()).
			Str("payment_intent", ev.PaymentIntentID).
			Str("amount", amount.String()).
			Msg("payments: confirm payment failed")
	}
	return err
}

func (s *Service) record(ctx context.Context, projectID, payerID uuid.UUID, ev Succeeded) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Payment
		err := tx.Where("stripe_payment_intent_id = ?", ev.PaymentIntentID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			eventID := ev.EventID
			return tx.Create(&domain.Payment{
				StripePaymentIntentID: ev.PaymentIntentID,
				StripeEventID:         &eventID,
				ProjectID:             projectID,
				PayerID:               payerID,
				AmountCents:           ev.AmountReceived,
				Currency:              ev.Currency,
				Status:                domain.PaymentStatusSucceeded,
				RawPaymentIntent:      datatypes.JSON(ev.Raw),
			}).Error
		case err != nil:
			return err
		case existing.Status == domain.PaymentStatusSucceeded:
			return nil
		}
		eventID := ev.EventID
		return tx.Model(&existing).Updates(map[string]interface{}{
			"stripe_event_id":    &eventID,
			"status":             domain.PaymentStatusSucceeded,
			"amount_cents":       ev.AmountReceived,
			"raw_payment_intent": datatypes.JSON(ev.Raw),
		}).Error
	})
}

// Package stripe creates PaymentIntents through the Stripe Go SDK.
package stripe

import (
	"context"
	"errors"

	"commissions-backend/internal/application/payments"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// ErrNotConfigured is returned when no secret key is set.
var ErrNotConfigured = errors.New("Stripe not configured")

// IntentCreator implements payments.IntentCreator against the Stripe API.
type IntentCreator struct {
	SecretKey string
}

func (c *IntentCreator) CreateIntent(ctx context.Context, in payments.IntentParams) (*payments.Intent, error) {
	if c.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	client := paymentintent.Client{B: stripego.GetBackend(stripego.APIBackend), Key: c.SecretKey}
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(in.AmountCents),
		Currency: stripego.String(in.Currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.IdempotencyKey)
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := client.New(params)
	if err != nil {
		return nil, err
	}
	return &payments.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	paysvc "commissions-backend/internal/application/payments"
	"commissions-backend/internal/domain"
	"commissions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const eventPaymentIntentSucceeded = "payment_intent.succeeded"

type WebhookHandler struct {
	Service       *paysvc.Service
	WebhookSecret string
}

// HandleWebhook POST /api/v1/stripe/webhook: raw body, signature verification, then process.
// Domain rejections answer 200 so Stripe stops retrying; ErrBusy and storage failures answer 5xx
// so it retries.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	sig := c.Get("Stripe-Signature")

	if len(rawBody) == 0 {
		log.Warn().Msg("Stripe webhook received empty body")
		return c.Status(fiber.StatusBadRequest).SendString("Webhook Error: empty body")
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, sig, wh.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Bool("has_sig", sig != "").Bool("has_secret", wh.WebhookSecret != "").Msg("Stripe webhook signature verification failed")
		return c.Status(fiber.StatusBadRequest).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	if string(event.Type) != eventPaymentIntentSucceeded {
		return c.Status(fiber.StatusOK).SendString("ok")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Stripe webhook payment intent parse failed")
		return c.Status(fiber.StatusOK).SendString("ok")
	}

	err = wh.Service.HandleSucceeded(c.UserContext(), paysvc.Succeeded{
		EventID:         event.ID,
		PaymentIntentID: pi.ID,
		AmountReceived:  pi.AmountReceived,
		Currency:        string(pi.Currency),
		Metadata:        pi.Metadata,
		Raw:             event.Data.Raw,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrBusy):
		return c.Status(fiber.StatusServiceUnavailable).SendString("busy")
	case response.StatusFor(err) == fiber.StatusInternalServerError:
		log.Error().Err(err).Str("event_id", event.ID).Msg("Stripe webhook processing failed")
		return c.Status(fiber.StatusInternalServerError).SendString("retry")
	}
	return c.Status(fiber.StatusOK).SendString("ok")
}

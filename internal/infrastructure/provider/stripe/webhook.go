package stripe

import (
	"encoding/json"
	"fmt"

	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

// WebhookEvent is a verified Stripe event reduced to what the engine needs.
// Handled is false for event types that carry no payment outcome.
type WebhookEvent struct {
	ID      string
	Type    string
	Ref     string
	Result  payment.ExternalResult
	Handled bool
}

type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// Parse verifies the Stripe-Signature header and maps PaymentIntent events.
func (p *WebhookParser) Parse(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe webhook: %w", err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	var outcome payment.Outcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = payment.OutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome = payment.OutcomeDeclined
	case "payment_intent.canceled":
		outcome = payment.OutcomeCancelled
	default:
		return out, nil
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe webhook: decode payment intent: %w", err)
	}
	out.Ref = pi.ID
	out.Handled = true
	out.Result = payment.ExternalResult{Outcome: outcome, Reference: pi.ID}
	if outcome == payment.OutcomeDeclined && pi.LastPaymentError != nil {
		out.Result.Message = pi.LastPaymentError.Msg
	}
	return out, nil
}

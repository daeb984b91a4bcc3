package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/directcapture"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/embedded"
)

// IntentAPI is the slice of the PaymentIntents API the gateway uses.
// *paymentintent.Client satisfies it.
type IntentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Cancel(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error)
}

// Gateway backs both the direct card capture and the embedded checkout with
// Stripe PaymentIntents.
type Gateway struct {
	intents IntentAPI
}

var (
	_ directcapture.CardAcquirer = (*Gateway)(nil)
	_ embedded.CheckoutGateway   = (*Gateway)(nil)
)

func New(secretKey string) *Gateway {
	return NewWithAPI(&paymentintent.Client{B: stripego.GetBackend(stripego.APIBackend), Key: secretKey})
}

func NewWithAPI(api IntentAPI) *Gateway {
	return &Gateway{intents: api}
}

// Capture creates and confirms a PaymentIntent with a tokenized payment method.
// Card declines come back as a verdict, not an error.
func (g *Gateway) Capture(ctx context.Context, req directcapture.CaptureRequest) (directcapture.CaptureResult, error) {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(minorUnits(req.Amount, req.Currency)),
		Currency:      stripego.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripego.String(req.Card.Token),
		Confirm:       stripego.Bool(true),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripego.Bool(true),
			AllowRedirects: stripego.String("never"),
		},
	}
	prepare(ctx, &params.Params, req.IdempotencyKey, req.IntentID, req.OrderID)

	pi, err := g.intents.New(params)
	if err != nil {
		var serr *stripego.Error
		if errors.As(err, &serr) && serr.Type == stripego.ErrorTypeCard {
			res := directcapture.CaptureResult{DeclineMessage: serr.Msg}
			if serr.PaymentIntent != nil {
				res.Reference = serr.PaymentIntent.ID
			}
			return res, nil
		}
		return directcapture.CaptureResult{}, fmt.Errorf("stripe capture: %w", err)
	}

	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		return directcapture.CaptureResult{Approved: true, Reference: pi.ID}, nil
	default:
		return directcapture.CaptureResult{Reference: pi.ID, DeclineMessage: declineMessage(pi)}, nil
	}
}

func (g *Gateway) Void(ctx context.Context, reference string) error {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.intents.Cancel(reference, params); err != nil {
		return fmt.Errorf("stripe void: %w", err)
	}
	return nil
}

// CreateSession opens an unconfirmed PaymentIntent whose client secret drives
// the embedded payment form.
func (g *Gateway) CreateSession(ctx context.Context, req embedded.SessionRequest) (embedded.Session, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(minorUnits(req.Amount, req.Currency)),
		Currency: stripego.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	prepare(ctx, &params.Params, req.IdempotencyKey, req.IntentID, req.OrderID)

	pi, err := g.intents.New(params)
	if err != nil {
		return embedded.Session{}, fmt.Errorf("stripe create session: %w", err)
	}
	return embedded.Session{ID: pi.ID, Token: pi.ClientSecret}, nil
}

func (g *Gateway) SessionStatus(ctx context.Context, sessionID string) (embedded.SessionStatus, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(sessionID, params)
	if err != nil {
		return embedded.SessionStatus{}, fmt.Errorf("stripe session status: %w", err)
	}
	return sessionStatusOf(pi), nil
}

func (g *Gateway) CancelSession(ctx context.Context, sessionID string) error {
	return g.Void(ctx, sessionID)
}

func sessionStatusOf(pi *stripego.PaymentIntent) embedded.SessionStatus {
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		return embedded.SessionStatus{State: embedded.SessionSucceeded}
	case stripego.PaymentIntentStatusCanceled:
		return embedded.SessionStatus{State: embedded.SessionCanceled, Message: "payment was cancelled"}
	case stripego.PaymentIntentStatusRequiresPaymentMethod:
		// a fresh intent also waits for a payment method; only a recorded error means the attempt failed
		if pi.LastPaymentError != nil {
			return embedded.SessionStatus{State: embedded.SessionFailed, Message: pi.LastPaymentError.Msg}
		}
		return embedded.SessionStatus{State: embedded.SessionPending}
	default:
		return embedded.SessionStatus{State: embedded.SessionPending}
	}
}

func declineMessage(pi *stripego.PaymentIntent) string {
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}
	return fmt.Sprintf("payment not completed (status %s)", pi.Status)
}

func prepare(ctx context.Context, p *stripego.Params, idempotencyKey, intentID, orderID string) {
	p.Context = ctx
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	p.AddMetadata("payment_id", intentID)
	p.AddMetadata("order_id", orderID)
}

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// minorUnits converts a decimal amount to the integer Stripe expects.
func minorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

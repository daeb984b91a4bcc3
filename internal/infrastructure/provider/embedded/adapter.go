package embedded

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type SessionRequest struct {
	IntentID       string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	ReturnURL      string
	IdempotencyKey string
}

// Session is a checkout the payer completes inside an embedded form.
// Token is handed to the form; ID identifies the session to the gateway.
type Session struct {
	ID    string
	Token string
}

type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionSucceeded SessionState = "succeeded"
	SessionFailed    SessionState = "failed"
	SessionCanceled  SessionState = "canceled"
)

type SessionStatus struct {
	State   SessionState
	Message string
}

type CheckoutGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	CancelSession(ctx context.Context, sessionID string) error
}

// Adapter opens a gateway session and waits for the form to report back.
// The form's own verdict is never trusted; Confirm asks the gateway.
type Adapter struct {
	gateway CheckoutGateway
}

func New(gateway CheckoutGateway) *Adapter {
	return &Adapter{gateway: gateway}
}

func (*Adapter) Name() string { return payment.AdapterEmbeddedForm }

func (a *Adapter) Initiate(ctx context.Context, intent *payment.Intent, checkout payment.Checkout) (payment.InitiateResult, error) {
	sess, err := a.gateway.CreateSession(ctx, SessionRequest{
		IntentID:       intent.ID,
		OrderID:        intent.OrderID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		ReturnURL:      checkout.ReturnURL,
		IdempotencyKey: fmt.Sprintf("%s-%d", intent.ID, intent.Attempts),
	})
	if err != nil {
		return payment.InitiateResult{}, payment.Normalize("embedded form session", err)
	}
	return payment.InitiateResult{
		Status:         payment.StatusRequiresAction,
		ProviderRef:    sess.ID,
		RequiresAction: true,
		NextAction:     sess.Token,
	}, nil
}

func (a *Adapter) Confirm(ctx context.Context, intent *payment.Intent, result payment.ExternalResult) (payment.ConfirmResult, error) {
	// a payer who closed the form is final without asking the gateway
	if result.Outcome == payment.OutcomeCancelled {
		msg := result.Message
		if msg == "" {
			msg = "payment was cancelled by the payer"
		}
		return payment.ConfirmResult{Status: payment.StatusFailed, Message: msg}, nil
	}

	st, err := a.gateway.SessionStatus(ctx, intent.ProviderRef)
	if err != nil {
		return payment.ConfirmResult{}, payment.Normalize("embedded form verify", err)
	}
	switch st.State {
	case SessionSucceeded:
		return payment.ConfirmResult{Status: payment.StatusCompleted}, nil
	case SessionFailed, SessionCanceled:
		msg := st.Message
		if msg == "" {
			msg = result.Message
		}
		return payment.ConfirmResult{Status: payment.StatusFailed, Message: msg}, nil
	default:
		return payment.ConfirmResult{Status: payment.StatusRequiresAction}, nil
	}
}

func (a *Adapter) Cancel(ctx context.Context, intent *payment.Intent) (payment.Status, error) {
	if intent.ProviderRef == "" {
		return payment.StatusCancelled, nil
	}
	if err := a.gateway.CancelSession(ctx, intent.ProviderRef); err != nil {
		return intent.Status, payment.Normalize("embedded form cancel", err)
	}
	return payment.StatusCancelled, nil
}

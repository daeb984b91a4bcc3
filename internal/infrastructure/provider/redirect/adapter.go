package redirect

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

type SessionRequest struct {
	IntentID       string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Country        string
	ReturnURL      string
	IdempotencyKey string
}

// Session is a hosted checkout the payer is sent to. Ref correlates the
// gateway's status reports and callbacks with the intent.
type Session struct {
	Ref string
	URL string
}

type RedirectGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	Status(ctx context.Context, ref string) (payment.ExternalResult, error)
}

// SessionCanceller is implemented by gateways that can abandon a session.
type SessionCanceller interface {
	CancelSession(ctx context.Context, ref string) error
}

// URLOpener hands the checkout URL to the payer out-of-band.
type URLOpener interface {
	Open(ctx context.Context, intentID, url string) error
}

// Adapter sends the payer to a hosted page. The outcome is learned by polling
// the gateway or from its callback, never from Initiate's return value.
type Adapter struct {
	gateway RedirectGateway
	opener  URLOpener
	log     observability.Logger
}

var _ payment.StatusPoller = (*Adapter)(nil)

func New(gateway RedirectGateway, opener URLOpener, tel observability.Observability) *Adapter {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Adapter{
		gateway: gateway,
		opener:  opener,
		log:     tel.Logger().With(observability.F("adapter", payment.AdapterRedirectPoll)),
	}
}

func (*Adapter) Name() string { return payment.AdapterRedirectPoll }

func (a *Adapter) Initiate(ctx context.Context, intent *payment.Intent, checkout payment.Checkout) (payment.InitiateResult, error) {
	sess, err := a.gateway.CreateSession(ctx, SessionRequest{
		IntentID:       intent.ID,
		OrderID:        intent.OrderID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Country:        checkout.Country,
		ReturnURL:      checkout.ReturnURL,
		IdempotencyKey: fmt.Sprintf("%s-%d", intent.ID, intent.Attempts),
	})
	if err != nil {
		return payment.InitiateResult{}, payment.Normalize("redirect session", err)
	}
	if sess.Ref == "" || sess.URL == "" {
		return payment.InitiateResult{}, payment.Normalize("redirect session",
			fmt.Errorf("gateway returned incomplete session %q", sess.Ref))
	}

	// the payer can still reach the URL through NextAction, so a failed open is not fatal
	if a.opener != nil {
		if err := a.opener.Open(ctx, intent.ID, sess.URL); err != nil {
			logctx.FromOr(ctx, a.log).Warn("redirect_open_failed",
				observability.F("payment_id", intent.ID),
				observability.F("error", err),
			)
		}
	}

	return payment.InitiateResult{
		Status:         payment.StatusRequiresAction,
		ProviderRef:    sess.Ref,
		RequiresAction: true,
		NextAction:     sess.URL,
	}, nil
}

// Poll asks the gateway whether the hosted payment has settled.
func (a *Adapter) Poll(ctx context.Context, providerRef string) (payment.ExternalResult, error) {
	res, err := a.gateway.Status(ctx, providerRef)
	if err != nil {
		return payment.ExternalResult{}, payment.Normalize("redirect status", err)
	}
	if res.Reference == "" {
		res.Reference = providerRef
	}
	return res, nil
}

// Confirm asks the gateway for the verdict. The reported result comes from an
// unauthenticated caller, so it never settles the payment on its own.
func (a *Adapter) Confirm(ctx context.Context, intent *payment.Intent, reported payment.ExternalResult) (payment.ConfirmResult, error) {
	res, err := a.gateway.Status(ctx, intent.ProviderRef)
	if err != nil {
		return payment.ConfirmResult{}, payment.Normalize("redirect verify", err)
	}
	if reported.Terminal() && res.Outcome != reported.Outcome {
		logctx.FromOr(ctx, a.log).Warn("redirect_outcome_mismatch",
			observability.F("payment_id", intent.ID),
			observability.F("reported", string(reported.Outcome)),
			observability.F("gateway", string(res.Outcome)),
		)
	}

	switch res.Outcome {
	case payment.OutcomeSucceeded:
		return payment.ConfirmResult{Status: payment.StatusCompleted}, nil
	case payment.OutcomeDeclined:
		return payment.ConfirmResult{Status: payment.StatusFailed, Message: res.Message}, nil
	case payment.OutcomeCancelled:
		msg := res.Message
		if msg == "" {
			msg = "payment was cancelled by the payer"
		}
		return payment.ConfirmResult{Status: payment.StatusFailed, Message: msg}, nil
	default:
		return payment.ConfirmResult{Status: payment.StatusRequiresAction}, nil
	}
}

func (a *Adapter) Cancel(ctx context.Context, intent *payment.Intent) (payment.Status, error) {
	c, ok := a.gateway.(SessionCanceller)
	if !ok || intent.ProviderRef == "" {
		return payment.StatusCancelled, nil
	}
	if err := c.CancelSession(ctx, intent.ProviderRef); err != nil {
		return intent.Status, payment.Normalize("redirect cancel", err)
	}
	return payment.StatusCancelled, nil
}

// LogOpener records the URL for the payer's client to pick up.
type LogOpener struct {
	log observability.Logger
}

func NewLogOpener(tel observability.Observability) *LogOpener {
	if tel == nil {
		tel = observability.Nop()
	}
	return &LogOpener{log: tel.Logger().With(observability.F("component", "redirect_opener"))}
}

func (o *LogOpener) Open(ctx context.Context, intentID, url string) error {
	logctx.FromOr(ctx, o.log).Info("redirect_url_issued",
		observability.F("payment_id", intentID),
		observability.F("url", url),
	)
	return nil
}

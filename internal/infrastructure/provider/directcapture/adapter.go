package directcapture

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type CaptureRequest struct {
	IntentID       string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Card           payment.Card
	IdempotencyKey string
}

// CaptureResult is an acquirer verdict. A decline is not an error.
type CaptureResult struct {
	Approved       bool
	Reference      string
	DeclineMessage string
}

// CardAcquirer charges a tokenized card in one round trip.
type CardAcquirer interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Void(ctx context.Context, reference string) error
}

// Adapter captures card payments synchronously.
type Adapter struct {
	acquirer CardAcquirer
}

func New(acquirer CardAcquirer) *Adapter {
	return &Adapter{acquirer: acquirer}
}

func (*Adapter) Name() string { return payment.AdapterDirectCapture }

func (a *Adapter) Initiate(ctx context.Context, intent *payment.Intent, checkout payment.Checkout) (payment.InitiateResult, error) {
	const op = "direct capture"
	if checkout.Card == nil || checkout.Card.Token == "" {
		return payment.InitiateResult{}, payment.Validation(op, "card token is required")
	}

	res, err := a.acquirer.Capture(ctx, CaptureRequest{
		IntentID:       intent.ID,
		OrderID:        intent.OrderID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Card:           *checkout.Card,
		IdempotencyKey: fmt.Sprintf("%s-%d", intent.ID, intent.Attempts),
	})
	if err != nil {
		return payment.InitiateResult{}, payment.Normalize(op, err)
	}
	if !res.Approved {
		return payment.InitiateResult{
			Status:      payment.StatusFailed,
			ProviderRef: res.Reference,
			Message:     res.DeclineMessage,
		}, nil
	}
	return payment.InitiateResult{Status: payment.StatusCompleted, ProviderRef: res.Reference}, nil
}

// Confirm is never reached in practice; the capture verdict is final.
func (*Adapter) Confirm(_ context.Context, intent *payment.Intent, _ payment.ExternalResult) (payment.ConfirmResult, error) {
	return payment.ConfirmResult{}, payment.InvalidTransition(intent.Status, payment.StatusCompleted)
}

func (a *Adapter) Cancel(ctx context.Context, intent *payment.Intent) (payment.Status, error) {
	if intent.ProviderRef == "" {
		return payment.StatusCancelled, nil
	}
	if err := a.acquirer.Void(ctx, intent.ProviderRef); err != nil {
		return intent.Status, payment.Normalize("direct capture void", err)
	}
	return payment.StatusCancelled, nil
}

// Package cash settles payments taken at the counter. There is no external
// step, so every attempt completes immediately.
package cash

import (
	"context"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (*Adapter) Name() string { return payment.AdapterCash }

func (*Adapter) Initiate(ctx context.Context, intent *payment.Intent, _ payment.Checkout) (payment.InitiateResult, error) {
	if err := ctx.Err(); err != nil {
		return payment.InitiateResult{}, payment.Normalize("cash initiate", err)
	}
	return payment.InitiateResult{
		Status:      payment.StatusCompleted,
		ProviderRef: "cash-" + intent.ID,
	}, nil
}

// Confirm has nothing to verify: a cash intent never waits on the payer.
func (*Adapter) Confirm(context.Context, *payment.Intent, payment.ExternalResult) (payment.ConfirmResult, error) {
	return payment.ConfirmResult{Status: payment.StatusCompleted}, nil
}

func (*Adapter) Cancel(context.Context, *payment.Intent) (payment.Status, error) {
	return payment.StatusCancelled, nil
}

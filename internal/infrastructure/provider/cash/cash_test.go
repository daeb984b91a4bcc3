package cash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

func TestCashCompletesImmediately(t *testing.T) {
	t.Parallel()

	res, err := New().Initiate(context.Background(), &payment.Intent{ID: "pi-1"}, payment.Checkout{})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, res.Status)
	assert.Equal(t, "cash-pi-1", res.ProviderRef)
	assert.False(t, res.RequiresAction)
}

func TestCashHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Initiate(ctx, &payment.Intent{ID: "pi-1"}, payment.Checkout{})
	assert.ErrorIs(t, err, payment.ErrProviderUnavailable)
}

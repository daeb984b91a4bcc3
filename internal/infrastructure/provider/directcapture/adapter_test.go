package directcapture

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type stubAcquirer struct {
	result CaptureResult
	err    error
	delay  time.Duration
	got    CaptureRequest
}

func (s *stubAcquirer) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	s.got = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return CaptureResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubAcquirer) Void(context.Context, string) error { return nil }

func intent() *payment.Intent {
	return &payment.Intent{
		ID:       "pi-1",
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("42.50"),
		Currency: "USD",
		Attempts: 1,
		Status:   payment.StatusProcessing,
	}
}

func TestInitiate(t *testing.T) {
	t.Parallel()

	card := &payment.Card{Token: "tok_visa", Last4: "4242"}

	tests := []struct {
		name       string
		acquirer   *stubAcquirer
		card       *payment.Card
		timeout    time.Duration
		wantStatus payment.Status
		wantMsg    string
		wantErr    error
	}{
		{
			name:       "approved",
			acquirer:   &stubAcquirer{result: CaptureResult{Approved: true, Reference: "ch_1"}},
			card:       card,
			wantStatus: payment.StatusCompleted,
		},
		{
			name:       "declined keeps provider message",
			acquirer:   &stubAcquirer{result: CaptureResult{DeclineMessage: "Your card has insufficient funds."}},
			card:       card,
			wantStatus: payment.StatusFailed,
			wantMsg:    "Your card has insufficient funds.",
		},
		{
			name:     "missing card",
			acquirer: &stubAcquirer{},
			wantErr:  payment.ErrValidation,
		},
		{
			name:     "slow acquirer times out",
			acquirer: &stubAcquirer{delay: time.Second},
			card:     card,
			timeout:  10 * time.Millisecond,
			wantErr:  payment.ErrProviderTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			res, err := New(tt.acquirer).Initiate(ctx, intent(), payment.Checkout{Card: tt.card})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Equal(t, "pi-1-1", tt.acquirer.got.IdempotencyKey)
		})
	}
}

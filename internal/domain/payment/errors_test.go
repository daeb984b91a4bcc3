package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: Validation("op", "bad"), want: "validation"},
		{name: "unsupported", err: UnsupportedMethod("op", "crypto"), want: "unsupported_method"},
		{name: "conflict_wrapped", err: fmt.Errorf("wrap: %w", Conflict("op", "paid")), want: "conflict"},
		{name: "timeout", err: ProviderTimeout("op", context.DeadlineExceeded), want: "provider_timeout"},
		{name: "rejected", err: Rejected("op", "Insufficient funds"), want: "provider_rejected"},
		{name: "unavailable", err: ProviderUnavailable("op", errors.New("EOF")), want: "provider_unavailable"},
		{name: "transition", err: InvalidTransition(StatusCompleted, StatusFailed), want: "invalid_transition"},
		{name: "exhausted", err: RetryExhausted(5), want: "retry_exhausted"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "other", err: errors.New("boom"), want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestUnsupportedMethodIsValidation(t *testing.T) {
	t.Parallel()

	err := UnsupportedMethod("route", "crypto")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestRejectedKeepsProviderMessage(t *testing.T) {
	t.Parallel()

	err := Rejected("direct_capture.initiate", "Your card has insufficient funds.")
	assert.Equal(t, "Your card has insufficient funds.", MessageOf(err))
	assert.True(t, Retryable(err))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Normalize("op", nil))

	deadline := Normalize("op", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, deadline, ErrProviderTimeout)
	assert.ErrorIs(t, deadline, context.DeadlineExceeded)

	already := Conflict("op", "x")
	assert.Same(t, already, Normalize("other", already))

	// a transport failure is not a decline
	generic := Normalize("op", errors.New("connection reset"))
	assert.ErrorIs(t, generic, ErrProviderUnavailable)
	assert.NotErrorIs(t, generic, ErrProviderRejected)
	assert.True(t, Retryable(generic))
}

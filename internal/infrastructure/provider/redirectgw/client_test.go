package redirectgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/redirect"
)

func TestCreateSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "pi-1-1", r.Header.Get("Idempotency-Key"))

		var body sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42.50", body.Amount)
		assert.Equal(t, "TRY", body.Currency)

		_ = json.NewEncoder(w).Encode(sessionResponse{Ref: "rp-1", URL: "https://pay.example/rp-1"})
	}))
	defer srv.Close()

	sess, err := New(srv.URL+"/", "key", time.Second).CreateSession(context.Background(), redirect.SessionRequest{
		IntentID:       "pi-1",
		OrderID:        "order-1",
		Amount:         decimal.RequireFromString("42.5"),
		Currency:       "TRY",
		IdempotencyKey: "pi-1-1",
	})
	require.NoError(t, err)
	assert.Equal(t, redirect.Session{Ref: "rp-1", URL: "https://pay.example/rp-1"}, sess)
}

func TestStatusMapsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   payment.Outcome
	}{
		{"paid", payment.OutcomeSucceeded},
		{"DECLINED", payment.OutcomeDeclined},
		{"abandoned", payment.OutcomeCancelled},
		{"waiting", payment.OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/sessions/rp-1", r.URL.Path)
				_ = json.NewEncoder(w).Encode(statusResponse{Ref: "rp-1", Status: tt.status, Message: "m"})
			}))
			defer srv.Close()

			res, err := New(srv.URL, "", time.Second).Status(context.Background(), "rp-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, "rp-1", res.Reference)
		})
	}
}

func TestNon2xxIsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, "", time.Second).CancelSession(context.Background(), "rp-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
}

func TestContextDeadlineSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, "", time.Second).Status(ctx, "rp-1")
	require.Error(t, err)
	assert.ErrorIs(t, payment.Normalize("poll", err), payment.ErrProviderTimeout)
}

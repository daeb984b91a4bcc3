package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/directcapture"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/embedded"
)

type fakeIntents struct {
	created  *stripego.PaymentIntentParams
	newPI    *stripego.PaymentIntent
	newErr   error
	getPI    *stripego.PaymentIntent
	canceled []string
}

func (f *fakeIntents) New(p *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	f.created = p
	return f.newPI, f.newErr
}

func (f *fakeIntents) Get(string, *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	return f.getPI, nil
}

func (f *fakeIntents) Cancel(id string, _ *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error) {
	f.canceled = append(f.canceled, id)
	return &stripego.PaymentIntent{ID: id, Status: stripego.PaymentIntentStatusCanceled}, nil
}

func captureRequest() directcapture.CaptureRequest {
	return directcapture.CaptureRequest{
		IntentID:       "pay-1",
		OrderID:        "order-1",
		Amount:         decimal.RequireFromString("12.34"),
		Currency:       "EUR",
		Card:           payment.Card{Token: "pm_card_visa"},
		IdempotencyKey: "pay-1-1",
	}
}

func TestCaptureApproved(t *testing.T) {
	t.Parallel()

	api := &fakeIntents{newPI: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusSucceeded}}
	res, err := NewWithAPI(api).Capture(context.Background(), captureRequest())
	require.NoError(t, err)

	assert.Equal(t, directcapture.CaptureResult{Approved: true, Reference: "pi_1"}, res)
	require.NotNil(t, api.created)
	assert.Equal(t, int64(1234), *api.created.Amount)
	assert.Equal(t, "eur", *api.created.Currency)
	assert.Equal(t, "pm_card_visa", *api.created.PaymentMethod)
	assert.Equal(t, "pay-1-1", *api.created.IdempotencyKey)
	assert.Equal(t, "order-1", api.created.Metadata["order_id"])
}

func TestCaptureCardErrorIsDecline(t *testing.T) {
	t.Parallel()

	api := &fakeIntents{newErr: &stripego.Error{
		Type:          stripego.ErrorTypeCard,
		Msg:           "Your card has insufficient funds.",
		PaymentIntent: &stripego.PaymentIntent{ID: "pi_2"},
	}}
	res, err := NewWithAPI(api).Capture(context.Background(), captureRequest())
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "pi_2", res.Reference)
	assert.Equal(t, "Your card has insufficient funds.", res.DeclineMessage)
}

func TestCaptureAPIErrorIsError(t *testing.T) {
	t.Parallel()

	api := &fakeIntents{newErr: errors.New("connection refused")}
	_, err := NewWithAPI(api).Capture(context.Background(), captureRequest())
	require.Error(t, err)
}

func TestCreateSessionReturnsClientSecret(t *testing.T) {
	t.Parallel()

	api := &fakeIntents{newPI: &stripego.PaymentIntent{ID: "pi_3", ClientSecret: "pi_3_secret"}}
	sess, err := NewWithAPI(api).CreateSession(context.Background(), embedded.SessionRequest{
		IntentID: "pay-1", OrderID: "order-1", Amount: decimal.RequireFromString("500"), Currency: "JPY",
	})
	require.NoError(t, err)
	assert.Equal(t, embedded.Session{ID: "pi_3", Token: "pi_3_secret"}, sess)
	assert.Equal(t, int64(500), *api.created.Amount)
	assert.Nil(t, api.created.Confirm)
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pi   *stripego.PaymentIntent
		want embedded.SessionState
	}{
		{"succeeded", &stripego.PaymentIntent{Status: stripego.PaymentIntentStatusSucceeded}, embedded.SessionSucceeded},
		{"canceled", &stripego.PaymentIntent{Status: stripego.PaymentIntentStatusCanceled}, embedded.SessionCanceled},
		{"fresh", &stripego.PaymentIntent{Status: stripego.PaymentIntentStatusRequiresPaymentMethod}, embedded.SessionPending},
		{"failed attempt", &stripego.PaymentIntent{
			Status:           stripego.PaymentIntentStatusRequiresPaymentMethod,
			LastPaymentError: &stripego.Error{Msg: "Your card was declined."},
		}, embedded.SessionFailed},
		{"processing", &stripego.PaymentIntent{Status: stripego.PaymentIntentStatusProcessing}, embedded.SessionPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, err := NewWithAPI(&fakeIntents{getPI: tt.pi}).SessionStatus(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.State)
		})
	}
}

func TestVoidCancelsIntent(t *testing.T) {
	t.Parallel()

	api := &fakeIntents{}
	require.NoError(t, NewWithAPI(api).Void(context.Background(), "pi_9"))
	assert.Equal(t, []string{"pi_9"}, api.canceled)
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1999), minorUnits(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, int64(1000), minorUnits(decimal.RequireFromString("10"), "TRY"))
	assert.Equal(t, int64(1200), minorUnits(decimal.RequireFromString("1200"), "KRW"))
}

func signed(t *testing.T, payload, secret string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestWebhookParse(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	tests := []struct {
		name    string
		payload string
		handled bool
		outcome payment.Outcome
		message string
	}{
		{
			name:    "succeeded",
			payload: `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`,
			handled: true,
			outcome: payment.OutcomeSucceeded,
		},
		{
			name:    "failed keeps message",
			payload: `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"message":"Your card was declined."}}}}`,
			handled: true,
			outcome: payment.OutcomeDeclined,
			message: "Your card was declined.",
		},
		{
			name:    "unrelated event",
			payload: `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			header, body := signed(t, tt.payload, secret)
			evt, err := NewWebhookParser(secret).Parse(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.handled, evt.Handled)
			if tt.handled {
				assert.Equal(t, "pi_1", evt.Ref)
				assert.Equal(t, tt.outcome, evt.Result.Outcome)
				assert.Equal(t, tt.message, evt.Result.Message)
			}
		})
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	header, body := signed(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`, "whsec_other")
	_, err := NewWebhookParser("whsec_test").Parse(body, header)
	require.Error(t, err)
}

package payment

import "context"

// Card is tokenized card data captured by the caller. Raw PANs never reach the engine.
type Card struct {
	Token  string
	Holder string
	Last4  string
}

// Checkout is per-attempt input that is not persisted on the intent.
type Checkout struct {
	Country   string
	ReturnURL string
	Card      *Card
}

// InitiateResult is what an adapter reports after starting an attempt.
// Status is one of COMPLETED, FAILED or REQUIRES_ACTION.
type InitiateResult struct {
	Status         Status
	ProviderRef    string
	RequiresAction bool
	NextAction     string
	Message        string
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
)

func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomeSucceeded, OutcomeDeclined, OutcomeCancelled, OutcomePending:
		return o, true
	default:
		return "", false
	}
}

// ExternalResult is a confirmation signal coming back from a provider,
// either polled, posted by a webhook, or returned by the embedded form.
type ExternalResult struct {
	Outcome   Outcome
	Message   string
	Reference string
}

// Terminal reports whether the result settles the attempt.
func (r ExternalResult) Terminal() bool {
	return r.Outcome == OutcomeSucceeded || r.Outcome == OutcomeDeclined || r.Outcome == OutcomeCancelled
}

type ConfirmResult struct {
	Status  Status
	Message string
}

// Adapter hides one provider's confirmation protocol. Implementations normalize
// their errors into the package taxonomy (ErrProviderTimeout, ErrProviderRejected,
// ErrProviderUnavailable).
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, intent *Intent, checkout Checkout) (InitiateResult, error)
	Confirm(ctx context.Context, intent *Intent, result ExternalResult) (ConfirmResult, error)
	Cancel(ctx context.Context, intent *Intent) (Status, error)
}

// StatusPoller is implemented by adapters whose confirmation arrives out-of-band.
type StatusPoller interface {
	Poll(ctx context.Context, providerRef string) (ExternalResult, error)
}

// Registered adapter names.
const (
	AdapterCash          = "cash"
	AdapterDirectCapture = "direct_capture"
	AdapterEmbeddedForm  = "embedded_form"
	AdapterRedirectPoll  = "redirect_poll"
)

package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusProcessing     Status = "PROCESSING"
	StatusRequiresAction Status = "REQUIRES_ACTION"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
)

type Method string

const (
	MethodCash         Method = "cash"
	MethodDirectCard   Method = "direct_card"
	MethodEmbeddedForm Method = "embedded_form_provider"
	MethodRedirect     Method = "redirect_provider"
)

// Methods lists every method the engine understands.
var Methods = []Method{MethodCash, MethodDirectCard, MethodEmbeddedForm, MethodRedirect}

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", UnsupportedMethod("parse method", s)
}

const DefaultMaxAttempts = 5

// Intent is one attempt to collect money for an order.
type Intent struct {
	ID          string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Method      Method
	Adapter     string
	Country     string
	Status      Status
	ProviderRef string
	// NextAction is what the payer's client needs to finish a REQUIRES_ACTION
	// attempt: a redirect URL or an embedded form token.
	NextAction string

	Attempts    int
	MaxAttempts int

	FailureReason  string
	FailureMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type NewIntentParams struct {
	ID          string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Method      Method
	Adapter     string
	Country     string
	MaxAttempts int
}

func NewIntent(p NewIntentParams) (*Intent, error) {
	const op = "new intent"
	if p.ID == "" {
		return nil, Validation(op, "intent id is required")
	}
	if p.OrderID == "" {
		return nil, Validation(op, "order id is required")
	}
	if !p.Amount.IsPositive() {
		return nil, Validation(op, "amount must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		return nil, Validation(op, "currency is required")
	}
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return nil, err
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	return &Intent{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		Currency:    currency,
		Method:      p.Method,
		Adapter:     p.Adapter,
		Country:     p.Country,
		Status:      StatusCreated,
		MaxAttempts: p.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal reports whether no further transition is allowed.
// FAILED only counts once the retry budget is spent.
func (i *Intent) IsTerminal() bool {
	switch i.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return !i.CanRetry()
	default:
		return false
	}
}

func (i *Intent) CanRetry() bool {
	return i.Attempts < i.MaxAttempts
}

// BeginAttempt starts a new PROCESSING attempt and counts it.
func (i *Intent) BeginAttempt() error {
	return i.apply(func(s intentState) (intentState, error) { return s.onProcessing(i) })
}

func (i *Intent) RequireAction(providerRef, nextAction string) error {
	if err := i.apply(func(s intentState) (intentState, error) { return s.onRequiresAction(i, providerRef) }); err != nil {
		return err
	}
	i.NextAction = nextAction
	return nil
}

func (i *Intent) Complete(providerRef string) error {
	return i.apply(func(s intentState) (intentState, error) { return s.onCompleted(i, providerRef) })
}

func (i *Intent) Fail(reason, message string) error {
	return i.apply(func(s intentState) (intentState, error) { return s.onFailed(i, reason, message) })
}

func (i *Intent) Cancel() error {
	return i.apply(func(s intentState) (intentState, error) { return s.onCancelled(i) })
}

func (i *Intent) apply(step func(intentState) (intentState, error)) error {
	next, err := step(stateFor(i.Status))
	if err != nil {
		return err
	}
	i.Status = next.status()
	i.touch()
	return nil
}

func (i *Intent) touch() {
	i.UpdatedAt = time.Now().UTC()
}

func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

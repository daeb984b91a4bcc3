package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domorder "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/pkg/keylock"
)

type CreateIntentInput struct {
	OrderID  string
	Method   dompay.Method
	Amount   *decimal.Decimal
	Currency string
	Country  string
	Adapter  string
}

// Manager owns intent creation and lookup.
type Manager struct {
	repo        dompay.Repository
	orders      OrderPort
	ids         IDGenerator
	locks       *keylock.Locker
	maxAttempts int
}

func NewManager(repo dompay.Repository, orders OrderPort, ids IDGenerator, locks *keylock.Locker, maxAttempts int) *Manager {
	if locks == nil {
		locks = keylock.New()
	}
	if maxAttempts <= 0 {
		maxAttempts = dompay.DefaultMaxAttempts
	}
	return &Manager{repo: repo, orders: orders, ids: ids, locks: locks, maxAttempts: maxAttempts}
}

func orderKey(orderID string) string { return "order:" + orderID }

// CreateOrGet returns the order's live intent or creates a new one.
// A COMPLETED intent for the order, or an order already marked paid, makes it
// a Conflict.
func (m *Manager) CreateOrGet(ctx context.Context, in CreateIntentInput) (*dompay.Intent, error) {
	const op = "create intent"
	if strings.TrimSpace(in.OrderID) == "" {
		return nil, dompay.Validation(op, "order id is required")
	}
	if _, err := dompay.ParseMethod(string(in.Method)); err != nil {
		return nil, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return nil, dompay.Validation(op, "amount must be greater than zero")
	}

	unlock, err := m.locks.Lock(ctx, orderKey(in.OrderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := m.repo.ListByOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	var live *dompay.Intent
	for _, it := range existing {
		if it.Status == dompay.StatusCompleted {
			return nil, dompay.Conflict(op, "order has already been paid")
		}
		if !it.IsTerminal() {
			live = it
		}
	}
	if err := m.ensureUnpaid(ctx, in.OrderID); err != nil {
		return nil, err
	}
	if live != nil {
		return live, nil
	}

	amount, currency, err := m.resolveAmount(ctx, in)
	if err != nil {
		return nil, err
	}

	intent, err := dompay.NewIntent(dompay.NewIntentParams{
		ID:          m.ids.NewID(),
		OrderID:     in.OrderID,
		Amount:      amount,
		Currency:    currency,
		Method:      in.Method,
		Adapter:     in.Adapter,
		Country:     strings.TrimSpace(in.Country),
		MaxAttempts: m.maxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := m.repo.Insert(ctx, intent); err != nil {
		return nil, err
	}
	return intent.Clone(), nil
}

// ensureUnpaid checks the order book, which outlives any single intent record.
func (m *Manager) ensureUnpaid(ctx context.Context, orderID string) error {
	summary, err := m.orders.PaymentSummary(ctx, orderID)
	switch {
	case errors.Is(err, domorder.ErrNotFound):
		// ad-hoc payments carry their own amount and have no order
		return nil
	case err != nil:
		return err
	case summary.IsPaid:
		return dompay.Conflict("create intent", "order has already been paid")
	}
	return nil
}

// resolveAmount freezes the amount: explicit input wins, otherwise the order total.
func (m *Manager) resolveAmount(ctx context.Context, in CreateIntentInput) (decimal.Decimal, string, error) {
	const op = "create intent"
	if in.Amount != nil && in.Currency != "" {
		return *in.Amount, in.Currency, nil
	}

	total, currency, err := m.orders.GetOrderTotal(ctx, in.OrderID)
	switch {
	case errors.Is(err, domorder.ErrNotFound):
		return decimal.Zero, "", dompay.NotFound(op, "order not found")
	case err != nil:
		return decimal.Zero, "", err
	}
	if in.Currency != "" {
		currency = in.Currency
	}
	if in.Amount != nil {
		return *in.Amount, currency, nil
	}
	if !total.IsPositive() {
		return decimal.Zero, "", dompay.Validation(op, "order total must be greater than zero")
	}
	return total, currency, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*dompay.Intent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, dompay.Validation("get intent", "intent id is required")
	}
	return m.repo.Get(ctx, id)
}

func (m *Manager) FindByProviderRef(ctx context.Context, ref string) (*dompay.Intent, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, dompay.Validation("find intent", "provider reference is required")
	}
	return m.repo.FindByProviderRef(ctx, ref)
}

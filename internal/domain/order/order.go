package order

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("order: not found")
	ErrConflict      = errors.New("order: conflict")
	ErrInvalidAmount = errors.New("order: total must be greater than zero")
	ErrAlreadyPaid   = errors.New("order: already paid")
)

type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
)

// Order is the slice of the order aggregate the payment engine cares about.
type Order struct {
	ID        string
	TableRef  string
	Total     decimal.Decimal
	Currency  string
	Status    Status
	PaymentID string
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentSummary is the read model handed to the payment engine.
type PaymentSummary struct {
	OrderID     string
	TotalAmount decimal.Decimal
	Currency    string
	PaymentID   string
	IsPaid      bool
}

func New(id, tableRef string, total decimal.Decimal, currency string) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, errors.New("order: currency is required")
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		TableRef:  tableRef,
		Total:     total,
		Currency:  currency,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Order) IsPaid() bool { return o.Status == StatusPaid }

// MarkPaid records the settling payment. It may only happen once.
func (o *Order) MarkPaid(paymentID string) error {
	if paymentID == "" {
		return errors.New("order: payment id is required")
	}
	if o.IsPaid() {
		return ErrAlreadyPaid
	}
	now := time.Now().UTC()
	o.Status = StatusPaid
	o.PaymentID = paymentID
	o.PaidAt = &now
	o.touch()
	return nil
}

// ChangeTotal adjusts an open order, e.g. after adding items.
func (o *Order) ChangeTotal(total decimal.Decimal) error {
	if o.IsPaid() {
		return ErrAlreadyPaid
	}
	if !total.IsPositive() {
		return ErrInvalidAmount
	}
	o.Total = total
	o.touch()
	return nil
}

func (o *Order) Summary() PaymentSummary {
	return PaymentSummary{
		OrderID:     o.ID,
		TotalAmount: o.Total,
		Currency:    o.Currency,
		PaymentID:   o.PaymentID,
		IsPaid:      o.IsPaid(),
	}
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

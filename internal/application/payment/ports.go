package payment

import (
	"context"

	"github.com/shopspring/decimal"

	domorder "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
}

// OrderPort is the narrow view of the order collaborator.
type OrderPort interface {
	GetOrderTotal(ctx context.Context, orderID string) (decimal.Decimal, string, error)
	MarkPaid(ctx context.Context, orderID, paymentID string) error
	PaymentSummary(ctx context.Context, orderID string) (domorder.PaymentSummary, error)
}

type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notifier is fire-and-forget; implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, message string)
}

// CompletionHandler is invoked after an intent reached COMPLETED.
type CompletionHandler interface {
	OnCompleted(ctx context.Context, intent *dompay.Intent) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, NotificationKind, string) {}

package payment

import (
	"context"
	"fmt"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/pkg/keylock"
)

// Reconciler marks the order paid once an intent completes and tells the
// customer about it.
type Reconciler struct {
	orders   OrderPort
	notifier Notifier
	locks    *keylock.Locker
	log      observability.Logger
}

func NewReconciler(orders OrderPort, notifier Notifier, locks *keylock.Locker, tel observability.Observability) *Reconciler {
	if tel == nil {
		tel = observability.Nop()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Reconciler{
		orders:   orders,
		notifier: notifier,
		locks:    locks,
		log:      tel.Logger().With(observability.F("component", "payment_reconciler")),
	}
}

// OnCompleted is idempotent: repeated signals for the same intent do nothing.
func (r *Reconciler) OnCompleted(ctx context.Context, intent *dompay.Intent) error {
	const op = "reconcile payment"
	if intent == nil || intent.Status != dompay.StatusCompleted {
		return dompay.Validation(op, "only completed payments can be reconciled")
	}
	logger := logctx.FromOr(ctx, r.log).With(
		observability.F("intent_id", intent.ID),
		observability.F("order_id", intent.OrderID),
	)

	unlock, err := r.locks.Lock(ctx, orderKey(intent.OrderID))
	if err != nil {
		return err
	}
	defer unlock()

	summary, err := r.orders.PaymentSummary(ctx, intent.OrderID)
	if err != nil {
		return fmt.Errorf("%s: load order: %w", op, err)
	}
	if summary.IsPaid {
		if summary.PaymentID == intent.ID {
			logger.Debug("order_already_reconciled")
			return nil
		}
		logger.Error("order_paid_by_other_payment", observability.F("paid_by", summary.PaymentID))
		return dompay.Conflict(op, "order was paid by another payment")
	}

	if err := r.orders.MarkPaid(ctx, intent.OrderID, intent.ID); err != nil {
		return fmt.Errorf("%s: mark paid: %w", op, err)
	}
	logger.Info("order_marked_paid",
		observability.F("amount", intent.Amount.StringFixed(2)),
		observability.F("currency", intent.Currency),
	)
	r.notifier.Notify(ctx, NotifySuccess, fmt.Sprintf(
		"Payment of %s %s received for order %s.",
		intent.Amount.StringFixed(2), intent.Currency, intent.OrderID,
	))
	return nil
}

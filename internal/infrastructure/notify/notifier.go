package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	appPayment "github.com/Zhima-Mochi/payment-orchestrator/internal/application/payment"
	domnotify "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/notification"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const publishTimeout = 300 * time.Millisecond

var _ appPayment.Notifier = (*BusNotifier)(nil)

// BusNotifier turns notifications into events so delivery never blocks the caller.
type BusNotifier struct {
	publisher domoutbox.Publisher
	log       observability.Logger
}

func NewBusNotifier(publisher domoutbox.Publisher, tel observability.Observability) *BusNotifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &BusNotifier{
		publisher: publisher,
		log:       tel.Logger().With(observability.F("component", "notifier")),
	}
}

func (n *BusNotifier) Notify(ctx context.Context, kind appPayment.NotificationKind, message string) {
	evt := domnotify.RequestedEvent{
		ID:         uuid.NewString(),
		Kind:       domnotify.Kind(kind),
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.publisher.Publish(pubCtx, evt); err != nil {
		logctx.FromOr(ctx, n.log).Warn("notification_dropped",
			observability.F("notification_id", evt.ID),
			observability.F("kind", string(kind)),
			observability.F("error", err),
		)
	}
}

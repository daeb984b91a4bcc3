package worker

import (
	"context"
	"fmt"

	domnotify "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/notification"
	domorder "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

// Sink is where relayed events end up, e.g. a Kafka topic.
type Sink interface {
	Send(ctx context.Context, key, eventName string, payload any) error
}

// Relay forwards payment, order and notification events from the in-process
// bus to an external sink, keyed by order id where there is one.
type Relay struct {
	subscriber domoutbox.Subscriber
	sink       Sink
	log        observability.Logger
}

// RelayedEvents lists the event names the relay subscribes to.
var RelayedEvents = []string{
	dompay.EventRequiresAction,
	dompay.EventCompleted,
	dompay.EventFailed,
	dompay.EventCancelled,
	domorder.OrderCreatedEvent{}.EventName(),
	domorder.OrderPaidEvent{}.EventName(),
	domnotify.EventRequested,
}

func New(subscriber domoutbox.Subscriber, sink Sink, tel observability.Observability) *Relay {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Relay{
		subscriber: subscriber,
		sink:       sink,
		log:        tel.Logger().With(observability.F("component", "event_relay")),
	}
}

func (r *Relay) Start() {
	if r.subscriber == nil || r.sink == nil {
		return
	}
	for _, name := range RelayedEvents {
		r.subscriber.Subscribe(name, r.handle)
	}
}

func (r *Relay) handle(ctx context.Context, e domoutbox.Event) error {
	logger := logctx.FromOr(ctx, r.log).With(observability.F("event", e.EventName()))

	key := keyOf(e)
	if err := r.sink.Send(ctx, key, e.EventName(), e); err != nil {
		logger.Warn("event_relay_failed",
			observability.F("key", key),
			observability.F("error", err),
		)
		return fmt.Errorf("relay %s: %w", e.EventName(), err)
	}
	logger.Debug("event_relayed", observability.F("key", key))
	return nil
}

func keyOf(e domoutbox.Event) string {
	switch evt := e.(type) {
	case dompay.StatusChangedEvent:
		return evt.OrderID
	case domorder.OrderCreatedEvent:
		return evt.OrderID
	case domorder.OrderPaidEvent:
		return evt.OrderID
	case domnotify.RequestedEvent:
		return evt.ID
	default:
		return e.EventName()
	}
}

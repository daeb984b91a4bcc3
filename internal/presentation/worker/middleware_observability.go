package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

// WithEventContext injects an event-scoped logger for background executions.
// Only low-cardinality attrs belong here (event name, queue, use case).
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = logctx.FromOr(ctx, nil)
	}

	fields := make([]observability.Field, 0, len(attrs)+3)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}
	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

type instrumented struct {
	next domoutbox.Subscriber
	base observability.Logger
}

// Instrument wraps every handler registered through the returned subscriber
// so it runs with an event-scoped logger on its context.
func Instrument(next domoutbox.Subscriber, base observability.Logger) domoutbox.Subscriber {
	return instrumented{next: next, base: base}
}

func (s instrumented) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		sc := trace.SpanContextFromContext(ctx)
		ctx = WithEventContext(ctx, s.base, sc.TraceID(), sc.SpanID(), map[string]string{
			"event": e.EventName(),
		})
		return h(ctx, e)
	})
}

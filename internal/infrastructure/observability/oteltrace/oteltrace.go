package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "payment-orchestrator"

type tracer struct{ t trace.Tracer }

// New returns a tracer backed by the global OTel provider. Exporters are wired by
// whoever calls otel.SetTracerProvider; without one spans are no-ops.
func New(name string) observability.Tracer {
	if name == "" {
		name = defaultTracerName
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}

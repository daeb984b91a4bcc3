package payment

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const (
	paymentService = "payment-service"
	spanPrefix     = "UC."

	useCaseRequest      = "payment.request"
	useCaseProcess      = "payment.process"
	useCaseCancel       = "payment.cancel"
	useCaseGet          = "payment.get"
	useCaseConfirmation = "payment.confirmation"
)

// run carries the bookkeeping of one use-case execution: span, RED metrics
// and the closing use_case_done log line.
type run struct {
	s       *Service
	useCase string
	span    trace.Span
	start   time.Time
	logger  observability.Logger

	outcome    string
	statusText string
	intent     *dompay.Intent
}

func (s *Service) begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := s.tracer.Start(ctx, spanPrefix+spanName, attrs...)

	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCase))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	return ctx, &run{
		s:          s,
		useCase:    useCase,
		span:       span,
		start:      time.Now(),
		logger:     logger,
		outcome:    "success",
		statusText: "OK",
	}
}

// fail marks the run as failed with a stable status code.
func (r *run) fail(statusText string) {
	r.outcome, r.statusText = "error", statusText
}

func (r *run) end(err error, fields ...observability.Field) {
	if err != nil && r.outcome == "success" {
		r.fail(statusFor(err))
	}
	latency := time.Since(r.start).Seconds()
	r.s.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.s.durHist.Observe(latency, observability.L("use_case", r.useCase))

	fields = append(fields,
		observability.F("outcome", r.outcome),
		observability.F("status", r.statusText),
		observability.F("latency_seconds", latency),
	)
	if r.intent != nil {
		r.span.SetAttributes(
			attribute.String("payment.id", r.intent.ID),
			attribute.String("payment.status", string(r.intent.Status)),
			attribute.Int("payment.attempts", r.intent.Attempts),
		)
		fields = append(fields,
			observability.F("payment_id", r.intent.ID),
			observability.F("payment_status", string(r.intent.Status)),
			observability.F("attempts", r.intent.Attempts),
		)
		if r.intent.FailureReason != "" {
			fields = append(fields, observability.F("failure_reason", r.intent.FailureReason))
		}
	}
	if err != nil {
		fields = append(fields,
			observability.F("error_kind", dompay.KindOf(err)),
			observability.F("error", err),
		)
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, r.statusText)
	} else {
		r.span.SetStatus(codes.Ok, r.statusText)
	}
	r.span.End()
	r.logger.Info("use_case_done", fields...)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, dompay.ErrUnsupportedMethod):
		return "UNSUPPORTED_METHOD"
	case errors.Is(err, dompay.ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, dompay.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, dompay.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, dompay.ErrProviderTimeout):
		return "PROVIDER_TIMEOUT"
	case errors.Is(err, dompay.ErrProviderRejected):
		return "PROVIDER_REJECTED"
	case errors.Is(err, dompay.ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, dompay.ErrRetryExhausted):
		return "RETRY_EXHAUSTED"
	case errors.Is(err, dompay.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	default:
		return "INTERNAL"
	}
}

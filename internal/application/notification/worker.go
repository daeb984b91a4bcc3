package notification

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domnotify "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/notification"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const (
	workerService  = "notification-worker"
	useCaseDeliver = "notification.worker.deliver"
	spanPrefix     = "UC."
)

type Sender interface {
	Send(ctx context.Context, n domnotify.RequestedEvent) error
}

// Worker delivers notification.requested events through a Sender.
type Worker struct {
	subscriber domoutbox.Subscriber
	sender     Sender
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func New(subscriber domoutbox.Subscriber, sender Sender, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber:   subscriber,
		sender:       sender,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.sender == nil {
		return
	}
	w.subscriber.Subscribe(domnotify.EventRequested, w.handleRequested)
}

func (w *Worker) handleRequested(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domnotify.RequestedEvent)
	if !ok {
		w.count(useCaseDeliver, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"DeliverNotification",
		attribute.String("use_case", useCaseDeliver),
		attribute.String("event", e.EventName()),
		attribute.String("notification.kind", string(evt.Kind)),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCaseDeliver),
		observability.F("notification_id", evt.ID),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCaseDeliver, outcome, lat)
		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
			observability.F("kind", string(evt.Kind)),
		)
		if outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	if err := w.sender.Send(ctx, evt); err != nil {
		outcome, status = "error", "SEND_FAILED"
		return fmt.Errorf("notification worker: send: %w", err)
	}
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}

func (w *Worker) observe(useCase, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	w.durHistogram.Observe(latencySeconds, observability.L("use_case", useCase))
}

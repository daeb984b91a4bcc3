package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/application"
	domain "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
)

var (
	ErrConflict   = domain.ErrConflict
	ErrNotFound   = domain.ErrNotFound
	ErrValidation = errors.New("order: validation failed")
	ErrRepository = errors.New("order: repository failure")
)

var _ application.UseCase[CreateOrderInput, *CreateOrderResult] = (*CreateOrderUseCase)(nil)

// CreateOrderUseCase opens an order that payments can later settle.
type CreateOrderUseCase struct {
	repo        domain.Repository
	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	tel         observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewCreateOrderUseCase(
	repo domain.Repository,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &CreateOrderUseCase{
		repo:         repo,
		idGenerator:  idGen,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

type CreateOrderInput struct {
	TableRef string
	Total    decimal.Decimal
	Currency string
}

type CreateOrderResult struct {
	OrderID  string
	Status   domain.Status
	Total    decimal.Decimal
	Currency string
}

func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderCreate))

	var orderID string
	var publishErr error

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.table_ref", cmd.TableRef),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseOrderCreate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if !cmd.Total.IsPositive() {
		outcome, statusText = "error", "TOTAL_INVALID"
		return nil, newValidation("total must be greater than zero")
	}
	if strings.TrimSpace(cmd.Currency) == "" {
		outcome, statusText = "error", "CURRENCY_REQUIRED"
		return nil, newValidation("currency is required")
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	orderID = uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, cmd.TableRef, cmd.Total, cmd.Currency)
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("%w: %w", ErrValidation, derr)
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, wrapRepositoryError(err)
	}

	if uc.publisher != nil {
		evt := domain.NewOrderCreatedEvent(entity)
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		pubStart := time.Now()
		pubOutcome := "success"

		publishErr = uc.publisher.Publish(pubCtx, evt)
		if publishErr != nil {
			pubOutcome = "error"
			statusText = "EVENT_PUBLISH_FAILED"
		} else if pubCtx.Err() != nil {
			pubOutcome = "canceled"
			publishErr = pubCtx.Err()
			statusText = "EVENT_PUBLISH_TIMEOUT"
		}
		cancel()

		uc.extCounter.Add(1,
			observability.L("peer", publishPeer),
			observability.L("endpoint", evt.EventName()),
			observability.L("outcome", pubOutcome),
		)
		uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
			observability.L("peer", publishPeer),
			observability.L("endpoint", evt.EventName()),
		)
	}

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", orderID)))

	return &CreateOrderResult{
		OrderID:  entity.ID,
		Status:   entity.Status,
		Total:    entity.Total,
		Currency: entity.Currency,
	}, nil
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

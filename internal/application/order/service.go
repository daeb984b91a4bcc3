package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

// Service is the order book as seen by the payment engine.
type Service struct {
	repo      domain.Repository
	publisher domoutbox.Publisher
	log       observability.Logger
}

func NewService(repo domain.Repository, publisher domoutbox.Publisher, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		log:       tel.Logger().With(observability.F("service", orderService)),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newValidation("id is required")
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

func (s *Service) GetOrderTotal(ctx context.Context, orderID string) (decimal.Decimal, string, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return decimal.Zero, "", err
	}
	return o.Total, o.Currency, nil
}

func (s *Service) PaymentSummary(ctx context.Context, orderID string) (domain.PaymentSummary, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.PaymentSummary{}, err
	}
	return o.Summary(), nil
}

// MarkPaid settles the order. Callers serialize per order; a second call
// with the same payment id is a no-op.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.IsPaid() && o.PaymentID == paymentID {
		return nil
	}
	if err := o.MarkPaid(paymentID); err != nil {
		if errors.Is(err, domain.ErrAlreadyPaid) {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return newValidation(err.Error())
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return wrapRepositoryError(err)
	}

	logger := logctx.FromOr(ctx, s.log)
	logger.Info("order_paid",
		observability.F("order_id", o.ID),
		observability.F("payment_id", paymentID),
	)
	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(pubCtx, domain.NewOrderPaidEvent(o)); err != nil {
			logger.Warn("event_publish_failed",
				observability.F("event", "order.paid"),
				observability.F("order_id", o.ID),
				observability.F("error", err.Error()),
			)
		}
	}
	return nil
}

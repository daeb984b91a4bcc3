package notify

import (
	"context"

	domnotify "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/notification"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

// LogSender delivers notifications to the structured log. It stands in for a
// push or SMS gateway.
type LogSender struct {
	log observability.Logger
}

func NewLogSender(tel observability.Observability) *LogSender {
	if tel == nil {
		tel = observability.Nop()
	}
	return &LogSender{log: tel.Logger().With(observability.F("component", "notification_sender"))}
}

func (s *LogSender) Send(ctx context.Context, n domnotify.RequestedEvent) error {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("notification_id", n.ID),
		observability.F("kind", string(n.Kind)),
	)
	if n.Kind == domnotify.KindError {
		logger.Warn("notification_sent", observability.F("message", n.Message))
		return nil
	}
	logger.Info("notification_sent", observability.F("message", n.Message))
	return nil
}

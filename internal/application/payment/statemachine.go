package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/pkg/keylock"
)

const publishTimeout = 2 * time.Second

// StateMachine is the single writer of intent status. Every mutation runs
// inside Do, which holds the intent's lock for the duration of fn.
type StateMachine struct {
	repo      dompay.Repository
	locks     *keylock.Locker
	completed CompletionHandler
	notifier  Notifier
	publisher domoutbox.Publisher

	log         observability.Logger
	transitions observability.Counter // payment_transitions_total{from,to}
	invalid     observability.Counter // payment_invalid_transitions_total{from,to}
}

func NewStateMachine(
	repo dompay.Repository,
	locks *keylock.Locker,
	completed CompletionHandler,
	notifier Notifier,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *StateMachine {
	if tel == nil {
		tel = observability.Nop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &StateMachine{
		repo:        repo,
		locks:       locks,
		completed:   completed,
		notifier:    notifier,
		publisher:   publisher,
		log:         tel.Logger().With(observability.F("component", "payment_state_machine")),
		transitions: tel.Metrics().Counter(observability.MPaymentTransitions),
		invalid:     tel.Metrics().Counter(observability.MPaymentInvalidTransitions),
	}
}

func intentKey(id string) string { return "intent:" + id }

// Session is the view of one intent handed to Do's callback.
type Session struct {
	m       *StateMachine
	ctx     context.Context
	intent  *dompay.Intent
	changes []dompay.StatusChangedEvent
}

// Intent returns a copy of the current state.
func (s *Session) Intent() *dompay.Intent { return s.intent.Clone() }

func (s *Session) BeginAttempt() error {
	return s.apply(dompay.StatusProcessing, func(i *dompay.Intent) error { return i.BeginAttempt() })
}

func (s *Session) RequireAction(ref, nextAction string) error {
	return s.apply(dompay.StatusRequiresAction, func(i *dompay.Intent) error { return i.RequireAction(ref, nextAction) })
}

func (s *Session) Fail(reason, message string) error {
	return s.apply(dompay.StatusFailed, func(i *dompay.Intent) error { return i.Fail(reason, message) })
}

func (s *Session) Cancel() error {
	return s.apply(dompay.StatusCancelled, func(i *dompay.Intent) error { return i.Cancel() })
}

// Complete refuses when a sibling intent of the same order already completed.
func (s *Session) Complete(ref string) error {
	unlock, err := s.m.locks.Lock(s.ctx, orderKey(s.intent.OrderID))
	if err != nil {
		return err
	}
	defer unlock()

	siblings, err := s.m.repo.ListByOrder(s.ctx, s.intent.OrderID)
	if err != nil {
		return err
	}
	for _, other := range siblings {
		if other.ID != s.intent.ID && other.Status == dompay.StatusCompleted {
			s.m.log.Error("duplicate_completion_refused",
				observability.F("intent_id", s.intent.ID),
				observability.F("order_id", s.intent.OrderID),
				observability.F("completed_intent_id", other.ID),
			)
			return dompay.Conflict("complete intent", "order has already been paid by another payment")
		}
	}
	return s.apply(dompay.StatusCompleted, func(i *dompay.Intent) error { return i.Complete(ref) })
}

// apply mutates a copy, persists it and only then swaps it in.
func (s *Session) apply(to dompay.Status, step func(*dompay.Intent) error) error {
	from := s.intent.Status
	next := s.intent.Clone()
	if err := step(next); err != nil {
		if errors.Is(err, dompay.ErrInvalidTransition) {
			s.m.invalid.Add(1, observability.L("from", string(from)), observability.L("to", string(to)))
			logctx.FromOr(s.ctx, s.m.log).Error("invalid_transition",
				observability.F("intent_id", s.intent.ID),
				observability.F("from", string(from)),
				observability.F("to", string(to)),
				observability.F("error", err),
			)
		}
		return err
	}
	if err := s.m.repo.Update(context.WithoutCancel(s.ctx), next); err != nil {
		return fmt.Errorf("persist intent %s: %w", next.ID, err)
	}
	s.intent = next
	s.m.transitions.Add(1, observability.L("from", string(from)), observability.L("to", string(next.Status)))
	logctx.FromOr(s.ctx, s.m.log).Info("payment_transition",
		observability.F("intent_id", next.ID),
		observability.F("order_id", next.OrderID),
		observability.F("from", string(from)),
		observability.F("to", string(next.Status)),
		observability.F("attempts", next.Attempts),
	)
	s.changes = append(s.changes, dompay.NewStatusChangedEvent(next, from))
	return nil
}

// Do loads the intent under its lock and runs fn. It returns the latest
// persisted state together with fn's error. Side effects of the applied
// transitions (events, reconciliation, notifications) run after the lock
// is released.
func (m *StateMachine) Do(ctx context.Context, intentID string, fn func(*Session) error) (*dompay.Intent, error) {
	unlock, err := m.locks.Lock(ctx, intentKey(intentID))
	if err != nil {
		return nil, err
	}
	// a caller that gave up while waiting must not mutate
	if err := ctx.Err(); err != nil {
		unlock()
		return nil, err
	}

	current, err := m.repo.Get(ctx, intentID)
	if err != nil {
		unlock()
		return nil, err
	}
	sess := &Session{m: m, ctx: ctx, intent: current}
	fnErr := fn(sess)
	result := sess.intent.Clone()
	unlock()

	m.afterCommit(ctx, sess.changes, result.Clone())
	return result, fnErr
}

func (m *StateMachine) afterCommit(ctx context.Context, changes []dompay.StatusChangedEvent, final *dompay.Intent) {
	if len(changes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger := logctx.FromOr(ctx, m.log)

	for _, evt := range changes {
		if m.publisher != nil && evt.To != dompay.StatusProcessing {
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := m.publisher.Publish(pubCtx, evt); err != nil {
				logger.Warn("payment_event_publish_failed",
					observability.F("event", evt.EventName()),
					observability.F("intent_id", evt.IntentID),
					observability.F("error", err),
				)
			}
			cancel()
		}
	}

	switch final.Status {
	case dompay.StatusCompleted:
		if m.completed == nil {
			return
		}
		if err := m.completed.OnCompleted(ctx, final); err != nil {
			logger.Error("reconcile_failed",
				observability.F("intent_id", final.ID),
				observability.F("order_id", final.OrderID),
				observability.F("error", err),
			)
		}
	case dompay.StatusFailed:
		m.notifier.Notify(ctx, NotifyError, failureNotice(final))
	}
}

func failureNotice(i *dompay.Intent) string {
	msg := i.FailureMessage
	if msg == "" {
		msg = "payment failed"
	}
	if i.CanRetry() {
		return fmt.Sprintf("Payment for order %s failed: %s. You can try again.", i.OrderID, msg)
	}
	return fmt.Sprintf("Payment for order %s failed: %s. Please contact support.", i.OrderID, msg)
}

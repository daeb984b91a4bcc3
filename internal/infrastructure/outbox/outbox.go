package outbox

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const componentOutbox = "outbox"

var ErrBusClosed = errors.New("outbox: bus is closed")

// Bus is an in-memory, non-durable event bus. Events are queued on Publish
// and fanned out to subscribers by a single dispatch loop.
type Bus struct {
	subsMu sync.RWMutex
	subs   map[string][]domoutbox.Handler

	// closeMu guards closed and the send side of queue
	closeMu sync.RWMutex
	closed  bool

	queue          chan domoutbox.Event
	done           chan struct{}
	startOnce      sync.Once
	stopOnce       sync.Once
	concurrency    int64
	handlerTimeout time.Duration

	log       observability.Logger
	published observability.Counter // external_requests_total{peer,endpoint,outcome}
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan domoutbox.Event, n)
		}
	}
}

// WithConcurrency caps how many handlers of one event run at once.
func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = int64(n)
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:           make(map[string][]domoutbox.Handler),
		queue:          make(chan domoutbox.Event, 1024),
		done:           make(chan struct{}),
		concurrency:    8,
		handlerTimeout: 30 * time.Second,
		log:            tel.Logger().With(observability.F("component", componentOutbox)),
		published:      tel.Metrics().Counter(observability.MExternalRequests),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.dispatchLoop(context.WithoutCancel(ctx))
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

// Stop refuses new events and waits until queued ones are dispatched or ctx ends.
func (b *Bus) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.queue)
		b.closeMu.Unlock()

		started := true
		b.startOnce.Do(func() { started = false })
		if started {
			select {
			case <-b.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped", observability.F("drained", err == nil))
	})
	return err
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	name := e.EventName()

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.count(name, "closed")
		return ErrBusClosed
	}

	select {
	case b.queue <- e:
		b.count(name, "success")
		logctx.FromOr(ctx, b.log).Debug("event_enqueued", observability.F("event", name))
		return nil
	case <-ctx.Done():
		b.count(name, "canceled")
		logctx.FromOr(ctx, b.log).Warn("event_enqueue_aborted",
			observability.F("event", name),
			observability.F("error", ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) count(event, outcome string) {
	b.published.Add(1,
		observability.L("peer", componentOutbox),
		observability.L("endpoint", event),
		observability.L("outcome", outcome),
	)
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for e := range b.queue {
		b.fanout(ctx, e)
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.subsMu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.subsMu.RUnlock()

	logger := b.log.With(observability.F("event", name))
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		return
	}

	sem := semaphore.NewWeighted(b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		// Acquire only fails on a cancelled ctx, which ours never is.
		_ = sem.Acquire(ctx, 1)
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
				}
				sem.Release(1)
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
			defer cancel()
			if err := h(logctx.With(hctx, logger), e); err != nil {
				logger.Warn("event_handler_error", observability.F("error", err))
			}
		}()
	}
	wg.Wait()

	logger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}

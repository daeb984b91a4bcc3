package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
)

// PollFunc asks the provider for the current status of ref.
type PollFunc func(ctx context.Context, ref string) (dompay.ExternalResult, error)

// ConfirmationSink receives the poller's verdicts. Settle and Expire must be
// no-ops when the intent is no longer awaiting confirmation.
type ConfirmationSink interface {
	Awaiting(ctx context.Context, intentID string) (bool, error)
	Settle(ctx context.Context, intentID string, result dompay.ExternalResult) error
	Expire(ctx context.Context, intentID string) error
}

// PollHandle controls one running poll loop.
type PollHandle struct {
	intentID string
	ref      string
	cancel   context.CancelFunc
	done     chan struct{}
	polls    atomic.Int64
}

// Cancel stops the loop and waits for it to exit. Safe to call repeatedly
// and from any goroutine.
func (h *PollHandle) Cancel() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Polls reports how many provider calls the loop has made.
func (h *PollHandle) Polls() int64 { return h.polls.Load() }

func (h *PollHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type Poller struct {
	sink        ConfirmationSink
	hub         *ConfirmationHub
	callTimeout time.Duration

	mu     sync.Mutex
	active map[string]*PollHandle
	wg     sync.WaitGroup

	log    observability.Logger
	gauge  observability.Gauge
	closed bool
}

func NewPoller(sink ConfirmationSink, hub *ConfirmationHub, callTimeout time.Duration, tel observability.Observability) *Poller {
	if tel == nil {
		tel = observability.Nop()
	}
	if hub == nil {
		hub = NewConfirmationHub()
	}
	return &Poller{
		sink:        sink,
		hub:         hub,
		callTimeout: callTimeout,
		active:      make(map[string]*PollHandle),
		log:         tel.Logger().With(observability.F("component", "confirmation_poller")),
		gauge:       tel.Metrics().Gauge(observability.MPaymentActivePollers),
	}
}

// Start launches a poll loop for intent. A loop already running for the
// intent is returned as is.
func (p *Poller) Start(intent *dompay.Intent, poll PollFunc, interval, timeout time.Duration) *PollHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.active[intent.ID]; ok && !h.finished() {
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &PollHandle{
		intentID: intent.ID,
		ref:      intent.ProviderRef,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if p.closed {
		cancel()
		close(h.done)
		return h
	}

	// subscribe before the goroutine runs so a confirmation delivered right
	// after Start is not lost
	confirmations, unsubscribe := p.hub.Subscribe(intent.ProviderRef)
	p.active[intent.ID] = h
	p.gauge.Add(1)
	p.wg.Add(1)
	go p.run(ctx, h, poll, interval, timeout, confirmations, unsubscribe)
	return h
}

func (p *Poller) run(
	ctx context.Context,
	h *PollHandle,
	poll PollFunc,
	interval, timeout time.Duration,
	confirmations <-chan dompay.ExternalResult,
	unsubscribe func(),
) {
	defer p.wg.Done()
	defer close(h.done)
	defer p.forget(h)
	defer unsubscribe()

	logger := p.log.With(
		observability.F("intent_id", h.intentID),
		observability.F("provider_ref", h.ref),
	)
	logger.Info("poller_started",
		observability.F("interval_seconds", interval.Seconds()),
		observability.F("timeout_seconds", timeout.Seconds()),
	)

	// a cancel that committed before Start registered this loop could not stop it
	awaiting, err := p.sink.Awaiting(ctx, h.intentID)
	switch {
	case err != nil:
		logger.Warn("poller_state_check_failed", observability.F("error", err))
	case !awaiting:
		logger.Info("poller_skipped", observability.F("reason", "not_awaiting_confirmation"))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	callTimeout := p.callTimeout
	if callTimeout <= 0 || callTimeout > interval {
		callTimeout = interval
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("poller_cancelled", observability.F("polls", h.Polls()))
			return

		case <-deadline.C:
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poller_timed_out", observability.F("polls", h.Polls()))
			if err := p.sink.Expire(ctx, h.intentID); err != nil {
				logger.Error("poller_expire_failed", observability.F("error", err))
			}
			return

		case reported := <-confirmations:
			// an unauthenticated report only triggers a poll; the gateway decides
			logger.Info("poller_nudged", observability.F("reported_outcome", string(reported.Outcome)))
			if p.pollOnce(ctx, logger, h, poll, callTimeout, "confirmation") {
				return
			}

		case <-ticker.C:
			if p.pollOnce(ctx, logger, h, poll, callTimeout, "poll") {
				return
			}
		}
	}
}

// pollOnce asks the provider once and reports whether the loop is finished.
func (p *Poller) pollOnce(ctx context.Context, logger observability.Logger, h *PollHandle, poll PollFunc, callTimeout time.Duration, source string) bool {
	if ctx.Err() != nil {
		return true
	}
	h.polls.Add(1)
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	res, err := poll(callCtx, h.ref)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.Warn("poll_failed",
			observability.F("source", source),
			observability.F("error", err),
			observability.F("polls", h.Polls()),
		)
		return false
	}
	if !res.Terminal() {
		return false
	}
	return p.settle(ctx, logger, h, res, source)
}

// settle reports whether the loop is finished.
func (p *Poller) settle(ctx context.Context, logger observability.Logger, h *PollHandle, res dompay.ExternalResult, source string) bool {
	if err := p.sink.Settle(ctx, h.intentID, res); err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.Error("poller_settle_failed",
			observability.F("source", source),
			observability.F("outcome", string(res.Outcome)),
			observability.F("error", err),
		)
		return false
	}
	logger.Info("poller_settled",
		observability.F("source", source),
		observability.F("outcome", string(res.Outcome)),
		observability.F("polls", h.Polls()),
	)
	return true
}

func (p *Poller) forget(h *PollHandle) {
	p.mu.Lock()
	if p.active[h.intentID] == h {
		delete(p.active, h.intentID)
	}
	p.mu.Unlock()
	p.gauge.Add(-1)
}

// Stop cancels the intent's loop, if any, and waits for it to exit.
func (p *Poller) Stop(intentID string) {
	p.mu.Lock()
	h := p.active[intentID]
	p.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Active reports whether a loop is running for the intent.
func (p *Poller) Active(intentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.active[intentID]
	return ok && !h.finished()
}

// Shutdown cancels every loop and waits for all of them.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	p.closed = true
	handles := make([]*PollHandle, 0, len(p.active))
	for _, h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	p.wg.Wait()
}

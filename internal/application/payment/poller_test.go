package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

type recordingSink struct {
	mu       sync.Mutex
	settled  []dompay.ExternalResult
	expired  int
	settleFn func() error
	gone     bool
}

func (s *recordingSink) Awaiting(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gone, nil
}

func (s *recordingSink) Settle(_ context.Context, _ string, r dompay.ExternalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleFn != nil {
		if err := s.settleFn(); err != nil {
			return err
		}
	}
	s.settled = append(s.settled, r)
	return nil
}

func (s *recordingSink) Expire(context.Context, string) error {
	s.mu.Lock()
	s.expired++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() ([]dompay.ExternalResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dompay.ExternalResult(nil), s.settled...), s.expired
}

func pollIntent(id string) *dompay.Intent {
	return &dompay.Intent{ID: id, ProviderRef: "rp-" + id, Status: dompay.StatusRequiresAction}
}

// succeedAt returns a poll func that reports success on call n.
func succeedAt(n int64, calls *atomic.Int64) PollFunc {
	return func(_ context.Context, ref string) (dompay.ExternalResult, error) {
		if calls.Add(1) >= n && n > 0 {
			return dompay.ExternalResult{Outcome: dompay.OutcomeSucceeded, Reference: ref}, nil
		}
		return dompay.ExternalResult{Outcome: dompay.OutcomePending}, nil
	}
}

func waitDone(t *testing.T, h *PollHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerSettlesOnTerminalPoll(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPoller(sink, nil, 0, nil)
	var calls atomic.Int64

	h := p.Start(pollIntent("pay-1"), succeedAt(3, &calls), 5*time.Millisecond, time.Second)
	waitDone(t, h)

	settled, expired := sink.snapshot()
	require.Len(t, settled, 1)
	assert.Equal(t, dompay.OutcomeSucceeded, settled[0].Outcome)
	assert.Zero(t, expired)
	assert.EqualValues(t, 3, h.Polls())
	assert.False(t, p.Active("pay-1"))
}

func TestPollerTimesOutAndStopsPolling(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPoller(sink, nil, 0, nil)
	var calls atomic.Int64

	h := p.Start(pollIntent("pay-1"), succeedAt(0, &calls), 5*time.Millisecond, 40*time.Millisecond)
	waitDone(t, h)

	settled, expired := sink.snapshot()
	assert.Empty(t, settled)
	assert.Equal(t, 1, expired)

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestPollerOnePerIntent(t *testing.T) {
	t.Parallel()

	p := NewPoller(&recordingSink{}, nil, 0, nil)
	var calls atomic.Int64
	poll := succeedAt(0, &calls)

	h1 := p.Start(pollIntent("pay-1"), poll, 5*time.Millisecond, time.Second)
	h2 := p.Start(pollIntent("pay-1"), poll, 5*time.Millisecond, time.Second)
	assert.Same(t, h1, h2)
	assert.True(t, p.Active("pay-1"))

	h1.Cancel()
	assert.False(t, p.Active("pay-1"))
}

func TestPollerCancelIsIdempotentAndFinal(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPoller(sink, nil, 0, nil)
	var calls atomic.Int64
	h := p.Start(pollIntent("pay-1"), succeedAt(0, &calls), time.Millisecond, time.Second)

	var wg sync.WaitGroup
	for n := 0; n < 5; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Cancel()
		}()
	}
	wg.Wait()
	waitDone(t, h)

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	settled, expired := sink.snapshot()
	assert.Empty(t, settled)
	assert.Zero(t, expired)
}

func TestPollerReceivesHubConfirmation(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewConfirmationHub()
	p := NewPoller(sink, hub, 0, nil)
	var calls atomic.Int64

	declined := func(_ context.Context, ref string) (dompay.ExternalResult, error) {
		calls.Add(1)
		return dompay.ExternalResult{Outcome: dompay.OutcomeDeclined, Message: "Insufficient funds", Reference: ref}, nil
	}

	intent := pollIntent("pay-1")
	h := p.Start(intent, declined, time.Hour, time.Minute)

	assert.False(t, hub.Deliver("rp-unknown", dompay.ExternalResult{Outcome: dompay.OutcomeSucceeded}))
	// the reported outcome only prompts a poll; the provider's answer is settled
	require.True(t, hub.Deliver(intent.ProviderRef, dompay.ExternalResult{Outcome: dompay.OutcomeSucceeded}))
	waitDone(t, h)

	settled, _ := sink.snapshot()
	require.Len(t, settled, 1)
	assert.Equal(t, dompay.OutcomeDeclined, settled[0].Outcome)
	assert.Equal(t, "Insufficient funds", settled[0].Message)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, hub.Len())
}

func TestPollerIgnoresClaimWhileProviderPending(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewConfirmationHub()
	p := NewPoller(sink, hub, 0, nil)
	var calls atomic.Int64

	intent := pollIntent("pay-1")
	h := p.Start(intent, succeedAt(0, &calls), time.Hour, time.Minute)
	t.Cleanup(h.Cancel)

	require.True(t, hub.Deliver(intent.ProviderRef, dompay.ExternalResult{Outcome: dompay.OutcomeSucceeded}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	settled, _ := sink.snapshot()
	assert.Empty(t, settled)
	assert.True(t, p.Active(intent.ID))
}

func TestPollerExitsWhenIntentNoLongerWaits(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{gone: true}
	p := NewPoller(sink, nil, 0, nil)
	var calls atomic.Int64

	h := p.Start(pollIntent("pay-1"), succeedAt(1, &calls), time.Millisecond, 20*time.Millisecond)
	waitDone(t, h)

	time.Sleep(30 * time.Millisecond)
	settled, expired := sink.snapshot()
	assert.Empty(t, settled)
	assert.Zero(t, expired)
	assert.Zero(t, calls.Load())
	assert.False(t, p.Active("pay-1"))
}

func TestPollerRetriesFailedSettle(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	sink := &recordingSink{settleFn: func() error {
		if attempts.Add(1) < 2 {
			return dompay.Conflict("settle", "busy")
		}
		return nil
	}}
	p := NewPoller(sink, nil, 0, nil)
	var calls atomic.Int64

	h := p.Start(pollIntent("pay-1"), succeedAt(1, &calls), 5*time.Millisecond, time.Second)
	waitDone(t, h)

	settled, _ := sink.snapshot()
	assert.Len(t, settled, 1)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestPollerShutdown(t *testing.T) {
	t.Parallel()

	p := NewPoller(&recordingSink{}, nil, 0, nil)
	var calls atomic.Int64
	poll := succeedAt(0, &calls)

	h1 := p.Start(pollIntent("pay-1"), poll, 5*time.Millisecond, time.Minute)
	h2 := p.Start(pollIntent("pay-2"), poll, 5*time.Millisecond, time.Minute)
	p.Shutdown()
	waitDone(t, h1)
	waitDone(t, h2)

	late := p.Start(pollIntent("pay-3"), poll, 5*time.Millisecond, time.Minute)
	waitDone(t, late)
	assert.False(t, p.Active("pay-3"))
}

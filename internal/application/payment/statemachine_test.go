package payment

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	domoutbox "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/outbox"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/pkg/keylock"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e.EventName())
	p.mu.Unlock()
	return nil
}

type countingCompletion struct {
	mu  sync.Mutex
	ids []string
}

func (c *countingCompletion) OnCompleted(_ context.Context, i *dompay.Intent) error {
	c.mu.Lock()
	c.ids = append(c.ids, i.ID)
	c.mu.Unlock()
	return nil
}

type machineFixture struct {
	*fixture
	machine   *StateMachine
	published *recordingPublisher
	completed *countingCompletion
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	f := newFixture(t, Config{})
	pub := &recordingPublisher{}
	done := &countingCompletion{}
	return &machineFixture{
		fixture:   f,
		machine:   NewStateMachine(f.repo, keylock.New(), done, f.notifier, pub, nil),
		published: pub,
		completed: done,
	}
}

func (m *machineFixture) insert(t *testing.T, id, orderID string, maxAttempts int) {
	t.Helper()
	i, err := dompay.NewIntent(dompay.NewIntentParams{
		ID: id, OrderID: orderID, Amount: decimal.NewFromInt(10), Currency: "EUR",
		Method: dompay.MethodDirectCard, Adapter: dompay.AdapterDirectCapture, MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	require.NoError(t, m.repo.Insert(context.Background(), i))
}

func TestDoPersistsAndPublishes(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 3)

	got, err := m.machine.Do(context.Background(), "pay-1", func(s *Session) error {
		if err := s.BeginAttempt(); err != nil {
			return err
		}
		return s.Complete("cap-1")
	})
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusCompleted, got.Status)
	assert.Equal(t, "cap-1", got.ProviderRef)

	stored, err := m.repo.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	// PROCESSING is internal and not published
	assert.Equal(t, []string{dompay.EventCompleted}, m.published.events)
	assert.Equal(t, []string{"pay-1"}, m.completed.ids)
}

func TestDoInvalidTransitionLeavesIntentUntouched(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 3)

	got, err := m.machine.Do(context.Background(), "pay-1", func(s *Session) error {
		return s.Complete("nope")
	})
	assert.ErrorIs(t, err, dompay.ErrInvalidTransition)
	assert.Equal(t, dompay.StatusCreated, got.Status)
	assert.Empty(t, m.published.events)
	assert.Empty(t, m.completed.ids)
}

func TestDoRefusesSecondCompletionForOrder(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 3)
	m.insert(t, "pay-2", "order-1", 3)
	ctx := context.Background()

	complete := func(s *Session) error {
		if err := s.BeginAttempt(); err != nil {
			return err
		}
		return s.Complete("")
	}
	_, err := m.machine.Do(ctx, "pay-1", complete)
	require.NoError(t, err)

	got, err := m.machine.Do(ctx, "pay-2", complete)
	assert.ErrorIs(t, err, dompay.ErrConflict)
	assert.Equal(t, dompay.StatusProcessing, got.Status)
	assert.Equal(t, []string{"pay-1"}, m.completed.ids)
}

func TestDoSerializesPerIntent(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 50)

	// every goroutine fails one attempt; without serialization attempts would be lost
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.machine.Do(context.Background(), "pay-1", func(s *Session) error {
				if err := s.BeginAttempt(); err != nil {
					return err
				}
				return s.Fail(dompay.ReasonProviderRejected, "declined")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.repo.Get(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Attempts)
	assert.Equal(t, 20, m.notifier.count(NotifyError))
}

func TestDoCancelledContextDoesNotMutate(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := m.machine.Do(ctx, "pay-1", func(*Session) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestFailureNoticeHints(t *testing.T) {
	t.Parallel()

	m := newMachineFixture(t)
	m.insert(t, "pay-1", "order-1", 2)
	fail := func(s *Session) error {
		if err := s.BeginAttempt(); err != nil {
			return err
		}
		return s.Fail(dompay.ReasonProviderRejected, "Do not honor")
	}

	_, err := m.machine.Do(context.Background(), "pay-1", fail)
	require.NoError(t, err)
	assert.Equal(t, notice{NotifyError, "Payment for order order-1 failed: Do not honor. You can try again."}, m.notifier.last())

	_, err = m.machine.Do(context.Background(), "pay-1", fail)
	require.NoError(t, err)
	assert.Equal(t, notice{NotifyError, "Payment for order order-1 failed: Do not honor. Please contact support."}, m.notifier.last())

	_, err = m.machine.Do(context.Background(), "pay-1", fail)
	assert.ErrorIs(t, err, dompay.ErrRetryExhausted)
}

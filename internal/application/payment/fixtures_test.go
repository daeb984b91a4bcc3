package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	apporder "github.com/Zhima-Mochi/payment-orchestrator/internal/application/order"
	domorder "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/order"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/memory"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("pay-%d", s.n.Add(1)) }

type notice struct {
	kind NotificationKind
	msg  string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(_ context.Context, kind NotificationKind, msg string) {
	n.mu.Lock()
	n.notices = append(n.notices, notice{kind, msg})
	n.mu.Unlock()
}

func (n *recordingNotifier) count(kind NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notices {
		if x.kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last() notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return notice{}
	}
	return n.notices[len(n.notices)-1]
}

// countingOrders counts MarkPaid calls that reached the order book.
type countingOrders struct {
	*apporder.Service
	markPaid atomic.Int64
}

func (o *countingOrders) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	o.markPaid.Add(1)
	return o.Service.MarkPaid(ctx, orderID, paymentID)
}

type fakeAdapter struct {
	name     string
	initiate func(ctx context.Context, i *dompay.Intent, c dompay.Checkout) (dompay.InitiateResult, error)
	confirm  func(ctx context.Context, i *dompay.Intent, r dompay.ExternalResult) (dompay.ConfirmResult, error)
	cancels  atomic.Int64
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Initiate(ctx context.Context, i *dompay.Intent, c dompay.Checkout) (dompay.InitiateResult, error) {
	return a.initiate(ctx, i, c)
}

func (a *fakeAdapter) Confirm(ctx context.Context, i *dompay.Intent, r dompay.ExternalResult) (dompay.ConfirmResult, error) {
	if a.confirm == nil {
		return outcomeConfirm(r), nil
	}
	return a.confirm(ctx, i, r)
}

func (a *fakeAdapter) Cancel(context.Context, *dompay.Intent) (dompay.Status, error) {
	a.cancels.Add(1)
	return dompay.StatusCancelled, nil
}

type pollingAdapter struct {
	*fakeAdapter
	polls atomic.Int64
	poll  func(n int64) dompay.ExternalResult
}

func (a *pollingAdapter) Poll(_ context.Context, ref string) (dompay.ExternalResult, error) {
	n := a.polls.Add(1)
	res := a.poll(n)
	res.Reference = ref
	return res, nil
}

func outcomeConfirm(r dompay.ExternalResult) dompay.ConfirmResult {
	switch r.Outcome {
	case dompay.OutcomeSucceeded:
		return dompay.ConfirmResult{Status: dompay.StatusCompleted}
	case dompay.OutcomeDeclined, dompay.OutcomeCancelled:
		return dompay.ConfirmResult{Status: dompay.StatusFailed, Message: r.Message}
	default:
		return dompay.ConfirmResult{Status: dompay.StatusRequiresAction}
	}
}

func cashAdapter() *fakeAdapter {
	return &fakeAdapter{
		name: dompay.AdapterCash,
		initiate: func(_ context.Context, i *dompay.Intent, _ dompay.Checkout) (dompay.InitiateResult, error) {
			return dompay.InitiateResult{Status: dompay.StatusCompleted, ProviderRef: "cash-" + i.ID}, nil
		},
	}
}

// cardAdapter approves every capture unless decline is set.
func cardAdapter(decline string) *fakeAdapter {
	return &fakeAdapter{
		name: dompay.AdapterDirectCapture,
		initiate: func(_ context.Context, i *dompay.Intent, _ dompay.Checkout) (dompay.InitiateResult, error) {
			if decline != "" {
				return dompay.InitiateResult{Status: dompay.StatusFailed, Message: decline}, nil
			}
			return dompay.InitiateResult{Status: dompay.StatusCompleted, ProviderRef: fmt.Sprintf("cap-%s-%d", i.ID, i.Attempts)}, nil
		},
	}
}

func embeddedAdapter() *fakeAdapter {
	return &fakeAdapter{
		name: dompay.AdapterEmbeddedForm,
		initiate: func(_ context.Context, i *dompay.Intent, _ dompay.Checkout) (dompay.InitiateResult, error) {
			return dompay.InitiateResult{
				Status:         dompay.StatusRequiresAction,
				ProviderRef:    "sess-" + i.ID,
				RequiresAction: true,
				NextAction:     "secret-" + i.ID,
			}, nil
		},
	}
}

// redirectAdapter reports success on poll number successAt; 0 means never.
func redirectAdapter(successAt int64) *pollingAdapter {
	return &pollingAdapter{
		fakeAdapter: &fakeAdapter{
			name: dompay.AdapterRedirectPoll,
			initiate: func(_ context.Context, i *dompay.Intent, _ dompay.Checkout) (dompay.InitiateResult, error) {
				return dompay.InitiateResult{
					Status:         dompay.StatusRequiresAction,
					ProviderRef:    "rp-" + i.ID,
					RequiresAction: true,
					NextAction:     "https://pay.example/rp-" + i.ID,
				}, nil
			},
		},
		poll: func(n int64) dompay.ExternalResult {
			if successAt > 0 && n >= successAt {
				return dompay.ExternalResult{Outcome: dompay.OutcomeSucceeded}
			}
			return dompay.ExternalResult{Outcome: dompay.OutcomePending}
		},
	}
}

type fixture struct {
	svc      *Service
	repo     *memory.IntentRepository
	orderRep *memory.OrderRepository
	orders   *countingOrders
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg Config, adapters ...dompay.Adapter) *fixture {
	t.Helper()

	router, err := NewRouter(DefaultRouteTable())
	require.NoError(t, err)
	for _, a := range adapters {
		router.Register(a)
	}

	orderRepo := memory.NewOrderRepository()
	orders := &countingOrders{Service: apporder.NewService(orderRepo, nil, nil)}
	repo := memory.NewIntentRepository()
	notifier := &recordingNotifier{}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = time.Second
	}

	svc := NewService(Dependencies{
		Repo:     repo,
		Orders:   orders,
		Notifier: notifier,
		IDs:      &seqIDs{},
		Router:   router,
	}, cfg)
	t.Cleanup(svc.Shutdown)

	return &fixture{svc: svc, repo: repo, orderRep: orderRepo, orders: orders, notifier: notifier}
}

func (f *fixture) seedOrder(t *testing.T, id, total, currency string) {
	t.Helper()
	o, err := domorder.New(id, "T1", decimal.RequireFromString(total), currency)
	require.NoError(t, err)
	require.NoError(t, f.orderRep.Insert(context.Background(), o))
}

func (f *fixture) orderPaid(t *testing.T, id string) domorder.PaymentSummary {
	t.Helper()
	s, err := f.orders.PaymentSummary(context.Background(), id)
	require.NoError(t, err)
	return s
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

func TestRecordKeepsExactAmountAndFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &domain.Intent{
		ID:             "pi-1",
		OrderID:        "order-1",
		Amount:         decimal.RequireFromString("1234.505"),
		Currency:       "TRY",
		Method:         domain.MethodRedirect,
		Adapter:        domain.AdapterRedirectPoll,
		Status:         domain.StatusFailed,
		Attempts:       2,
		MaxAttempts:    5,
		FailureReason:  domain.ReasonConfirmationTimeout,
		FailureMessage: "payment confirmation timed out",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	data, err := encode(in)
	require.NoError(t, err)
	out, err := decode(data)
	require.NoError(t, err)

	assert.True(t, in.Amount.Equal(out.Amount), "amount %s != %s", in.Amount, out.Amount)
	assert.Equal(t, in.FailureReason, out.FailureReason)
	assert.True(t, out.CanRetry())
}

func TestDecodeRejectsCorruptAmount(t *testing.T) {
	t.Parallel()

	_, err := decode([]byte(`{"id":"pi-1","amount":"ten"}`))
	require.Error(t, err)
}

func TestKeysAreNamespaced(t *testing.T) {
	t.Parallel()

	r := NewIntentRepository(nil, "")
	assert.Equal(t, "payments:intent:pi-1", r.intentKey("pi-1"))
	assert.Equal(t, "payments:order:o-1:intents", r.orderKey("o-1"))
	assert.Equal(t, "payments:ref:ref-1", r.refKey("ref-1"))
}

func newTestRepository(t *testing.T) (*IntentRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIntentRepository(client, "test"), mr
}

func newTestIntent(t *testing.T, id, orderID string) *domain.Intent {
	t.Helper()
	intent, err := domain.NewIntent(domain.NewIntentParams{
		ID:          id,
		OrderID:     orderID,
		Amount:      decimal.RequireFromString("42.50"),
		Currency:    "EUR",
		Method:      domain.MethodRedirect,
		Adapter:     domain.AdapterRedirectPoll,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	return intent
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestInsertRejectsDuplicate(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()
	intent := newTestIntent(t, "pi-1", "order-1")

	require.NoError(t, repo.Insert(ctx, intent))
	err := repo.Insert(ctx, intent)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.Get(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, got.Status)
	assert.True(t, intent.Amount.Equal(got.Amount))

	// the duplicate did not add a second index entry
	list, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	_, err := repo.Get(context.Background(), "pi-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateIndexesProviderRef(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()
	intent := newTestIntent(t, "pi-1", "order-1")
	require.NoError(t, repo.Insert(ctx, intent))

	_, err := repo.FindByProviderRef(ctx, "rp-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, intent.BeginAttempt())
	require.NoError(t, intent.RequireAction("rp-1", "https://pay.example/rp-1"))
	require.NoError(t, repo.Update(ctx, intent))

	got, err := repo.FindByProviderRef(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, "pi-1", got.ID)
	assert.Equal(t, domain.StatusRequiresAction, got.Status)
	assert.Equal(t, "https://pay.example/rp-1", got.NextAction)

	_, err = repo.FindByProviderRef(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateKeepsOrderID(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepository(t)
	ctx := context.Background()
	intent := newTestIntent(t, "pi-1", "order-1")
	require.NoError(t, repo.Insert(ctx, intent))

	moved := intent.Clone()
	moved.OrderID = "order-2"
	require.Error(t, repo.Update(ctx, moved))

	got, err := repo.Get(ctx, "pi-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.OrderID)

	assert.ErrorIs(t, repo.Update(ctx, newTestIntent(t, "pi-404", "order-1")), domain.ErrNotFound)
}

func TestListByOrderSkipsStaleIndex(t *testing.T) {
	t.Parallel()

	repo, mr := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, newTestIntent(t, "pi-1", "order-1")))
	require.NoError(t, repo.Insert(ctx, newTestIntent(t, "pi-2", "order-1")))
	require.NoError(t, repo.Insert(ctx, newTestIntent(t, "pi-3", "order-2")))

	_, err := mr.RPush(repo.orderKey("order-1"), "pi-gone")
	require.NoError(t, err)

	list, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pi-1", list[0].ID)
	assert.Equal(t, "pi-2", list[1].ID)

	empty, err := repo.ListByOrder(ctx, "order-404")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecordsNeverExpire(t *testing.T) {
	t.Parallel()

	repo, mr := newTestRepository(t)
	ctx := context.Background()
	intent := newTestIntent(t, "pi-1", "order-1")
	require.NoError(t, repo.Insert(ctx, intent))
	require.NoError(t, intent.BeginAttempt())
	require.NoError(t, intent.Complete("cap-1"))
	require.NoError(t, repo.Update(ctx, intent))

	for _, key := range []string{repo.intentKey("pi-1"), repo.orderKey("order-1"), repo.refKey("cap-1")} {
		assert.Zero(t, mr.TTL(key), key)
	}

	mr.FastForward(5 * 365 * 24 * time.Hour)

	list, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusCompleted, list[0].Status)

	got, err := repo.FindByProviderRef(ctx, "cap-1")
	require.NoError(t, err)
	assert.Equal(t, "pi-1", got.ID)
}

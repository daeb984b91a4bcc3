package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

const opRepo = "intent repository"

// IntentRepository stores intents as JSON documents with two secondary
// indexes: a per-order list of ids and a provider-ref to id mapping.
// Nothing it writes expires; terminal intents are the order's payment history.
type IntentRepository struct {
	client goredis.UniversalClient
	prefix string
}

func NewIntentRepository(client goredis.UniversalClient, prefix string) *IntentRepository {
	if prefix == "" {
		prefix = "payments"
	}
	return &IntentRepository{client: client, prefix: prefix}
}

// NewClient parses a redis:// URL and checks connectivity.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func (r *IntentRepository) intentKey(id string) string { return r.prefix + ":intent:" + id }
func (r *IntentRepository) orderKey(id string) string  { return r.prefix + ":order:" + id + ":intents" }
func (r *IntentRepository) refKey(ref string) string   { return r.prefix + ":ref:" + ref }

func (r *IntentRepository) Insert(ctx context.Context, intent *domain.Intent) error {
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("%s: id is required", opRepo)
	}
	data, err := encode(intent)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, r.intentKey(intent.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%s: insert: %w", opRepo, err)
	}
	if !ok {
		return domain.Conflict(opRepo, "intent already exists")
	}

	_, err = r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, r.orderKey(intent.OrderID), intent.ID)
		if intent.ProviderRef != "" {
			p.Set(ctx, r.refKey(intent.ProviderRef), intent.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: index: %w", opRepo, err)
	}
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, id string) (*domain.Intent, error) {
	data, err := r.client.Get(ctx, r.intentKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.NotFound(opRepo, "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get: %w", opRepo, err)
	}
	return decode(data)
}

func (r *IntentRepository) Update(ctx context.Context, intent *domain.Intent) error {
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("%s: id is required", opRepo)
	}
	prev, err := r.Get(ctx, intent.ID)
	if err != nil {
		return err
	}
	if prev.OrderID != intent.OrderID {
		return fmt.Errorf("%s: order id is immutable", opRepo)
	}
	data, err := encode(intent)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, r.intentKey(intent.ID), data, 0)
		if intent.ProviderRef != "" {
			p.Set(ctx, r.refKey(intent.ProviderRef), intent.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: update: %w", opRepo, err)
	}
	return nil
}

func (r *IntentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Intent, error) {
	ids, err := r.client.LRange(ctx, r.orderKey(orderID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", opRepo, err)
	}
	if len(ids) == 0 {
		return []*domain.Intent{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.intentKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", opRepo, err)
	}

	out := make([]*domain.Intent, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// index written but the record is missing, e.g. a key removed by hand
			continue
		}
		intent, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

func (r *IntentRepository) FindByProviderRef(ctx context.Context, ref string) (*domain.Intent, error) {
	if ref == "" {
		return nil, domain.NotFound(opRepo, "payment not found")
	}
	id, err := r.client.Get(ctx, r.refKey(ref)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.NotFound(opRepo, "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: find by ref: %w", opRepo, err)
	}
	return r.Get(ctx, id)
}

type record struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Method         string    `json:"method"`
	Adapter        string    `json:"adapter"`
	Country        string    `json:"country,omitempty"`
	Status         string    `json:"status"`
	ProviderRef    string    `json:"provider_ref,omitempty"`
	NextAction     string    `json:"next_action,omitempty"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func encode(i *domain.Intent) ([]byte, error) {
	data, err := json.Marshal(record{
		ID:             i.ID,
		OrderID:        i.OrderID,
		Amount:         i.Amount.String(),
		Currency:       i.Currency,
		Method:         string(i.Method),
		Adapter:        i.Adapter,
		Country:        i.Country,
		Status:         string(i.Status),
		ProviderRef:    i.ProviderRef,
		NextAction:     i.NextAction,
		Attempts:       i.Attempts,
		MaxAttempts:    i.MaxAttempts,
		FailureReason:  i.FailureReason,
		FailureMessage: i.FailureMessage,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", opRepo, err)
	}
	return data, nil
}

func decode(data []byte) (*domain.Intent, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", opRepo, err)
	}
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s: decode amount: %w", opRepo, err)
	}
	return &domain.Intent{
		ID:             rec.ID,
		OrderID:        rec.OrderID,
		Amount:         amount,
		Currency:       rec.Currency,
		Method:         domain.Method(rec.Method),
		Adapter:        rec.Adapter,
		Country:        rec.Country,
		Status:         domain.Status(rec.Status),
		ProviderRef:    rec.ProviderRef,
		NextAction:     rec.NextAction,
		Attempts:       rec.Attempts,
		MaxAttempts:    rec.MaxAttempts,
		FailureReason:  rec.FailureReason,
		FailureMessage: rec.FailureMessage,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

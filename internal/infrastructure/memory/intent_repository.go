package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

// IntentRepository keeps intents in process memory with order and provider-ref indexes.
type IntentRepository struct {
	mu      sync.RWMutex
	intents map[string]*domain.Intent
	byOrder map[string][]string
	byRef   map[string]string
}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{
		intents: make(map[string]*domain.Intent),
		byOrder: make(map[string][]string),
		byRef:   make(map[string]string),
	}
}

func (r *IntentRepository) Insert(ctx context.Context, intent *domain.Intent) error {
	_ = ctx
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("intent repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.intents[intent.ID]; exists {
		return domain.Conflict("intent repository", "intent already exists")
	}
	r.intents[intent.ID] = intent.Clone()
	r.byOrder[intent.OrderID] = append(r.byOrder[intent.OrderID], intent.ID)
	r.indexRef(intent)
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, id string) (*domain.Intent, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, domain.NotFound("intent repository", "payment not found")
	}
	return intent.Clone(), nil
}

func (r *IntentRepository) Update(ctx context.Context, intent *domain.Intent) error {
	_ = ctx
	if intent == nil || intent.ID == "" {
		return fmt.Errorf("intent repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.intents[intent.ID]
	if !exists {
		return domain.NotFound("intent repository", "payment not found")
	}
	if prev.OrderID != intent.OrderID {
		return fmt.Errorf("intent repository: order id is immutable")
	}
	r.intents[intent.ID] = intent.Clone()
	r.indexRef(intent)
	return nil
}

func (r *IntentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Intent, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	out := make([]*domain.Intent, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.intents[id].Clone())
	}
	return out, nil
}

func (r *IntentRepository) FindByProviderRef(ctx context.Context, ref string) (*domain.Intent, error) {
	_ = ctx
	if ref == "" {
		return nil, domain.NotFound("intent repository", "payment not found")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, domain.NotFound("intent repository", "payment not found")
	}
	return r.intents[id].Clone(), nil
}

// indexRef must be called with r.mu held.
func (r *IntentRepository) indexRef(intent *domain.Intent) {
	if intent.ProviderRef != "" {
		r.byRef[intent.ProviderRef] = intent.ID
	}
}

package payment

import (
	"sync"

	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
)

// ConfirmationHub routes inbound confirmations (webhooks, return URLs) to the
// poller waiting on the same provider reference. The poller treats a delivery
// as a prompt to ask the gateway, not as the verdict itself.
type ConfirmationHub struct {
	mu      sync.Mutex
	waiters map[string]chan dompay.ExternalResult
}

func NewConfirmationHub() *ConfirmationHub {
	return &ConfirmationHub{waiters: make(map[string]chan dompay.ExternalResult)}
}

// Subscribe registers interest in ref. The returned func unregisters; a later
// subscriber for the same ref replaces the earlier one.
func (h *ConfirmationHub) Subscribe(ref string) (<-chan dompay.ExternalResult, func()) {
	ch := make(chan dompay.ExternalResult, 1)
	h.mu.Lock()
	h.waiters[ref] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if h.waiters[ref] == ch {
				delete(h.waiters, ref)
			}
			h.mu.Unlock()
		})
	}
}

// Deliver hands r to the subscriber of ref without blocking. It reports
// false when nobody listens or a result is already pending.
func (h *ConfirmationHub) Deliver(ref string, r dompay.ExternalResult) bool {
	h.mu.Lock()
	ch, ok := h.waiters[ref]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- r:
		return true
	default:
		return false
	}
}

func (h *ConfirmationHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}

package payment

import (
	"strings"
	"time"
)

const (
	EventRequiresAction = "payment.requires_action"
	EventCompleted      = "payment.completed"
	EventFailed         = "payment.failed"
	EventCancelled      = "payment.cancelled"
)

// StatusChangedEvent is emitted after a transition has been persisted.
type StatusChangedEvent struct {
	IntentID    string
	OrderID     string
	From        Status
	To          Status
	Amount      string
	Currency    string
	Method      Method
	ProviderRef string
	Reason      string
	Message     string
	Attempts    int
	OccurredAt  time.Time
}

func (e StatusChangedEvent) EventName() string {
	return "payment." + strings.ToLower(string(e.To))
}

func NewStatusChangedEvent(i *Intent, from Status) StatusChangedEvent {
	return StatusChangedEvent{
		IntentID:    i.ID,
		OrderID:     i.OrderID,
		From:        from,
		To:          i.Status,
		Amount:      i.Amount.StringFixed(2),
		Currency:    i.Currency,
		Method:      i.Method,
		ProviderRef: i.ProviderRef,
		Reason:      i.FailureReason,
		Message:     i.FailureMessage,
		Attempts:    i.Attempts,
		OccurredAt:  time.Now().UTC(),
	}
}

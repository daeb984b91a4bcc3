package notification

import "time"

const EventRequested = "notification.requested"

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// RequestedEvent asks for a user-facing message to be delivered.
type RequestedEvent struct {
	ID         string
	Kind       Kind
	Message    string
	OccurredAt time.Time
}

func (RequestedEvent) EventName() string { return EventRequested }

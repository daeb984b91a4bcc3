package order

import "time"

// OrderPaidEvent is emitted once an order has been settled by a completed payment.
type OrderPaidEvent struct {
	OrderID    string
	PaymentID  string
	Amount     string
	Currency   string
	OccurredAt time.Time
}

func (OrderPaidEvent) EventName() string { return "order.paid" }

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:    o.ID,
		PaymentID:  o.PaymentID,
		Amount:     o.Total.StringFixed(2),
		Currency:   o.Currency,
		OccurredAt: time.Now().UTC(),
	}
}

type OrderCreatedEvent struct {
	OrderID    string
	TableRef   string
	Total      string
	Currency   string
	OccurredAt time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:    o.ID,
		TableRef:   o.TableRef,
		Total:      o.Total.StringFixed(2),
		Currency:   o.Currency,
		OccurredAt: time.Now().UTC(),
	}
}

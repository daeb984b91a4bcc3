package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, intent *Intent) error
	// ListByOrder returns the order's intents oldest first.
	ListByOrder(ctx context.Context, orderID string) ([]*Intent, error)
	FindByProviderRef(ctx context.Context, ref string) (*Intent, error)
}

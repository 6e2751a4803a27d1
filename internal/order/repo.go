package order

import (
	"context"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	FindOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	FindOrderByNumber(ctx context.Context, number string) (*order.Order, error)
	FindOrderByExternalID(ctx context.Context, provider, externalID string) (*order.Order, error)
	BindExternalID(ctx context.Context, id uuid.UUID, provider, externalID string) (*order.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, u order.Update) (*order.Order, error)
	ListOrders(ctx context.Context, f order.Filter) ([]order.Order, error)
	ListOrdersForPolling(ctx context.Context, updatedBefore time.Time, limit int) ([]order.Order, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	OrderSummary(ctx context.Context) (*order.Summary, error)
}

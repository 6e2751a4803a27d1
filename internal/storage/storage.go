package storage

import (
	"context"
	"errors"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record state does not allow this change")
	ErrDuplicate = errors.New("record already exists")
)

// AdminRepository отвечает за учётные записи администраторов.
type AdminRepository interface {
	CreateAdmin(ctx context.Context, a *admin.Admin) error
	FindAdminByLogin(ctx context.Context, login string) (*admin.Admin, error)
}

// OrderRepository отвечает за операции над заказами.
// UpdateOrder is a single conditional read-modify-write: when the guard rejects
// the change it returns the current order together with ErrConflict.
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

// EventRepository помнит обработанные вебхуки.
type EventRepository interface {
	EventSeen(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

// Storage объединяет все репозитории.
type Storage interface {
	AdminRepository
	OrderRepository
	EventRepository

	Ping(ctx context.Context) error
	Close() error
}

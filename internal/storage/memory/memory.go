// Package memory is an in-process Storage for development runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/types/admin"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
)

type Storage struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*order.Order
	admins  map[string]*admin.Admin
	events  map[string]string
	nextAdm int64
	now     func() time.Time
}

func New() *Storage {
	return &Storage{
		orders: make(map[uuid.UUID]*order.Order),
		admins: make(map[string]*admin.Admin),
		events: make(map[string]string),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (s *Storage) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Storage) Ping(ctx context.Context) error { return nil }
func (s *Storage) Close() error                   { return nil }

func (s *Storage) CreateAdmin(ctx context.Context, a *admin.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[a.Login]; ok {
		return storage.ErrDuplicate
	}
	s.nextAdm++
	a.ID = s.nextAdm
	cp := *a
	s.admins[a.Login] = &cp
	return nil
}

func (s *Storage) FindAdminByLogin(ctx context.Context, login string) (*admin.Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.admins[login]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// clone deep-copies the mutable parts so callers never alias stored state.
func clone(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.LineItem(nil), o.Items...)
	if o.Payment.CapturedAmount != nil {
		cp.Payment.CapturedAmount = append(json.RawMessage(nil), o.Payment.CapturedAmount...)
	}
	if o.Payment.CapturedAt != nil {
		t := *o.Payment.CapturedAt
		cp.Payment.CapturedAt = &t
	}
	if o.Payment.RefundedAt != nil {
		t := *o.Payment.RefundedAt
		cp.Payment.RefundedAt = &t
	}
	return &cp
}

func (s *Storage) CreateOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.Number == o.Number {
			return storage.ErrDuplicate
		}
	}
	now := s.now().UTC()
	o.ID = uuid.New()
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *Storage) FindOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(o), nil
}

func (s *Storage) FindOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Number == number {
			return clone(o), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Storage) FindOrderByExternalID(ctx context.Context, provider, externalID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Provider == provider && o.ExternalID == externalID && externalID != "" {
			return clone(o), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Storage) BindExternalID(ctx context.Context, id uuid.UUID, provider, externalID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if o.ExternalID != "" {
		if o.Provider == provider && o.ExternalID == externalID {
			return clone(o), nil
		}
		return clone(o), storage.ErrConflict
	}
	for _, other := range s.orders {
		if other.Provider == provider && other.ExternalID == externalID {
			return nil, storage.ErrDuplicate
		}
	}
	o.Provider = provider
	o.ExternalID = externalID
	o.Version++
	o.UpdatedAt = s.now().UTC()
	return clone(o), nil
}

func (s *Storage) UpdateOrder(ctx context.Context, id uuid.UUID, u order.Update) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !u.Allows(o) {
		return clone(o), storage.ErrConflict
	}
	u.Apply(o)
	o.Version++
	o.UpdatedAt = s.now().UTC()
	return clone(o), nil
}

func (s *Storage) sorted(keep func(*order.Order) bool) []order.Order {
	var out []order.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Storage) ListOrders(ctx context.Context, f order.Filter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(o *order.Order) bool {
		return (f.OrderStatus == "" || o.OrderStatus == f.OrderStatus) &&
			(f.PaymentStatus == "" || o.PaymentStatus == f.PaymentStatus)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Storage) ListOrdersForPolling(ctx context.Context, updatedBefore time.Time, limit int) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(o *order.Order) bool {
		return o.PaymentStatus.Open() && o.OrderStatus == order.StatusPending && o.UpdatedAt.Before(updatedBefore)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Storage) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !o.Deletable() {
		return storage.ErrConflict
	}
	delete(s.orders, id)
	return nil
}

func (s *Storage) OrderSummary(ctx context.Context) (*order.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := storage.NewSummary()
	for _, o := range s.orders {
		storage.AddToSummary(sum, o.PaymentStatus, o.OrderStatus, o.PaymentCurrency, 1, o.PaymentAmount)
	}
	return sum, nil
}

func (s *Storage) EventSeen(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Storage) RecordEvent(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = eventType
	return nil
}

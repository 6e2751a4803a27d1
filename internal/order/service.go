package order

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/storage"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/antonminaichev/perfume-checkout/internal/util/luna"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrValidation          = errors.New("invalid order data")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadyBound        = errors.New("order already bound to another payment")
	ErrExternalIDTaken     = errors.New("payment id already bound to another order")
	ErrTransitionRejected  = errors.New("order state does not allow this transition")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrPaymentRequired     = errors.New("order payment is not completed")
	ErrOrderPaid           = errors.New("paid orders cannot be deleted")
	ErrInvalidOrderNumber  = errors.New("invalid order number")
	errNumberAllocExceeded = errors.New("could not allocate a unique order number")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	numberAttempts   = 3
)

type Service struct {
	repo     OrderRepository
	provider string
	now      func() time.Time
}

func NewService(r OrderRepository) *Service {
	return &Service{repo: r, provider: order.ProviderPayPal, now: time.Now}
}

// NewOrder is the checkout payload after validation and currency conversion.
type NewOrder struct {
	Customer        order.Customer
	Items           []order.LineItem
	Currency        string
	PaymentAmount   decimal.Decimal
	PaymentCurrency string
	ExchangeRate    decimal.Decimal
}

// Validate checks the customer and line items and returns the computed total.
// The customer email is reduced to the bare address.
func (n *NewOrder) Validate() (decimal.Decimal, error) {
	if strings.TrimSpace(n.Customer.Name) == "" {
		return decimal.Zero, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(n.Customer.Email)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: customer email is invalid", ErrValidation)
	}
	n.Customer.Email = addr.Address
	if len(n.Items) == 0 {
		return decimal.Zero, fmt.Errorf("%w: at least one line item is required", ErrValidation)
	}
	total := decimal.Zero
	for i, li := range n.Items {
		if strings.TrimSpace(li.ProductID) == "" {
			return decimal.Zero, fmt.Errorf("%w: item %d has no product", ErrValidation, i)
		}
		if li.Quantity <= 0 {
			return decimal.Zero, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
		if !li.UnitPrice.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: item %d price must be positive", ErrValidation, i)
		}
		total = total.Add(li.Subtotal())
	}
	if len(n.Currency) != 3 {
		return decimal.Zero, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrValidation)
	}
	return total, nil
}

// CreatePendingOrder persists a new order in pending/pending with a fresh
// customer-facing number. Unit prices are frozen as given.
func (s *Service) CreatePendingOrder(ctx context.Context, in NewOrder) (*order.Order, error) {
	total, err := in.Validate()
	if err != nil {
		return nil, err
	}
	paymentAmount, paymentCurrency, rate := in.PaymentAmount, in.PaymentCurrency, in.ExchangeRate
	if paymentCurrency == "" {
		paymentAmount, paymentCurrency, rate = total, in.Currency, decimal.NewFromInt(1)
	}

	for attempt := 0; attempt < numberAttempts; attempt++ {
		number, err := luna.NewOrderNumber(s.now())
		if err != nil {
			return nil, fmt.Errorf("order number: %w", err)
		}
		o := &order.Order{
			Number:          number,
			Provider:        s.provider,
			Customer:        in.Customer,
			Items:           in.Items,
			Total:           total,
			Currency:        strings.ToUpper(in.Currency),
			PaymentAmount:   paymentAmount,
			PaymentCurrency: strings.ToUpper(paymentCurrency),
			ExchangeRate:    rate,
			OrderStatus:     order.StatusPending,
			PaymentStatus:   order.PaymentPending,
		}
		err = s.repo.CreateOrder(ctx, o)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		logger.Log.Info("order created",
			zap.String("order_id", o.ID.String()),
			zap.String("order_number", o.Number),
			zap.String("total", o.Total.String()),
			zap.String("currency", o.Currency),
		)
		return o, nil
	}
	return nil, errNumberAllocExceeded
}

// BindExternalPaymentID attaches the provider id once. Binding the same id
// again is a no-op.
func (s *Service) BindExternalPaymentID(ctx context.Context, id uuid.UUID, externalID string) (*order.Order, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: empty payment id", ErrValidation)
	}
	o, err := s.repo.BindExternalID(ctx, id, s.provider, externalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrOrderNotFound
	case errors.Is(err, storage.ErrConflict):
		return o, ErrAlreadyBound
	case errors.Is(err, storage.ErrDuplicate):
		return nil, ErrExternalIDTaken
	case err != nil:
		return nil, err
	}
	return o, nil
}

// Ref addresses an order by internal id or by provider payment id.
type Ref struct {
	ID         uuid.UUID
	ExternalID string
}

func ByID(id uuid.UUID) Ref            { return Ref{ID: id} }
func ByExternalID(externalID string) Ref { return Ref{ExternalID: externalID} }

func (r Ref) String() string {
	if r.ExternalID != "" {
		return "external:" + r.ExternalID
	}
	return r.ID.String()
}

// UpdateOrderStatus applies u atomically. When the guard rejects the change the
// current order is returned with ErrTransitionRejected.
func (s *Service) UpdateOrderStatus(ctx context.Context, ref Ref, u order.Update) (*order.Order, error) {
	id := ref.ID
	if ref.ExternalID != "" {
		o, err := s.FindByExternalPaymentID(ctx, ref.ExternalID)
		if err != nil {
			return nil, err
		}
		id = o.ID
	}
	o, err := s.repo.UpdateOrder(ctx, id, u)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrOrderNotFound
	case errors.Is(err, storage.ErrConflict):
		return o, ErrTransitionRejected
	case err != nil:
		return nil, err
	}
	return o, nil
}

// FindByExternalPaymentID is a point lookup on the indexed provider id.
func (s *Service) FindByExternalPaymentID(ctx context.Context, externalID string) (*order.Order, error) {
	o, err := s.repo.FindOrderByExternalID(ctx, s.provider, externalID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (s *Service) FindByNumber(ctx context.Context, number string) (*order.Order, error) {
	if !luna.ValidOrderNumber(number) {
		return nil, ErrInvalidOrderNumber
	}
	o, err := s.repo.FindOrderByNumber(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// CancelOrder moves an unpaid order to cancelled/failed and records why.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID, code, reason string) (*order.Order, error) {
	u := order.Update{
		OrderStatus:   order.StatusCancelled,
		PaymentStatus: order.PaymentFailed,
		FailureCode:   &code,
		FailureReason: &reason,
		GuardPayment:  []order.PaymentStatus{order.PaymentPending, order.PaymentApproved},
	}
	o, err := s.UpdateOrderStatus(ctx, ByID(id), u)
	if err != nil {
		return o, err
	}
	logger.Log.Info("order cancelled",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.Number),
		zap.String("code", code),
		zap.String("reason", reason),
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := s.repo.FindOrderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (s *Service) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	if f.OrderStatus != "" && !f.OrderStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrValidation, f.OrderStatus)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrValidation, f.PaymentStatus)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListOrders(ctx, f)
}

// ListForPolling returns open orders untouched for at least age.
func (s *Service) ListForPolling(ctx context.Context, age time.Duration, limit int) ([]order.Order, error) {
	return s.repo.ListOrdersForPolling(ctx, s.now().Add(-age), limit)
}

// OverrideStatus is the admin move along the fulfilment chain. Anything past
// pending requires a completed payment; cancelling an open payment fails it.
func (s *Service) OverrideStatus(ctx context.Context, id uuid.UUID, next order.OrderStatus, reason string) (*order.Order, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.OrderStatus.CanMoveTo(next) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.OrderStatus, next)
	}
	u := order.Update{
		OrderStatus:  next,
		GuardOrder:   []order.OrderStatus{current.OrderStatus},
		GuardPayment: []order.PaymentStatus{current.PaymentStatus},
	}
	if next == order.StatusCancelled {
		if current.PaymentStatus.Open() {
			code := "ADMIN_CANCELLED"
			u.PaymentStatus = order.PaymentFailed
			u.FailureCode = &code
			u.FailureReason = &reason
		}
	} else if current.PaymentStatus != order.PaymentCompleted {
		return current, ErrPaymentRequired
	}

	o, err := s.UpdateOrderStatus(ctx, ByID(id), u)
	if err != nil {
		return o, err
	}
	logger.Log.Info("order transition",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.Number),
		zap.String("from", string(current.OrderStatus)),
		zap.String("to", string(o.OrderStatus)),
		zap.String("source", "admin"),
		zap.String("reason", reason),
	)
	return o, nil
}

// DeleteUnpaid removes an order that never took money. Approved orders are
// kept since a pending capture can still complete.
func (s *Service) DeleteUnpaid(ctx context.Context, id uuid.UUID) error {
	err := s.repo.DeleteOrder(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrOrderNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrOrderPaid
	}
	return err
}

func (s *Service) Summary(ctx context.Context) (*order.Summary, error) {
	return s.repo.OrderSummary(ctx)
}

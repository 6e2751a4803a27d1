package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antonminaichev/perfume-checkout/internal/currency"
	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CheckoutRequest struct {
	Customer order.Customer   `json:"customer"`
	Items    []order.LineItem `json:"items"`
	Currency string           `json:"currency"`
	// Amount is the total the client displayed. When set it must match the
	// total computed from the items.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type CheckoutResult struct {
	OrderID     uuid.UUID            `json:"orderId"`
	OrderNumber string               `json:"orderNumber"`
	RemoteID    string               `json:"remoteId"`
	ApprovalURL string               `json:"approvalUrl"`
	Amount      decimal.Decimal      `json:"amount"`
	Currency    string               `json:"currency"`
	Conversion  *currency.Conversion `json:"conversion,omitempty"`
}

// Checkout validates and converts the request, creates the local order and the
// remote PayPal order, and binds them. If the remote side fails the local order
// is cancelled before returning.
func (w *Workflow) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	in := orders.NewOrder{
		Customer: req.Customer,
		Items:    req.Items,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	total, err := in.Validate()
	if err != nil {
		return nil, err
	}
	if req.Amount != nil && !req.Amount.Equal(total) {
		return nil, fmt.Errorf("%w: amount %s does not match items total %s", orders.ErrValidation, req.Amount, total)
	}

	conv, err := w.converter.Convert(ctx, total, in.Currency)
	if err != nil {
		if errors.Is(err, currency.ErrConversionUnavailable) || errors.Is(err, currency.ErrUnsupportedCurrency) {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}
		return nil, err
	}
	in.PaymentAmount, in.PaymentCurrency, in.ExchangeRate = conv.Amount, conv.Currency, conv.Rate

	token, _, err := w.authorize(ctx)
	if err != nil {
		return nil, err
	}

	o, err := w.orders.CreatePendingOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	remote, err := w.gateway.CreateOrder(ctx, token, paypal.CreateOrderRequest{
		Amount:      paypal.NewMoney(conv.Amount, conv.Currency),
		ReferenceID: o.Number,
		ReturnURL:   w.cfg.ReturnURL,
		CancelURL:   w.cfg.CancelURL,
		BrandName:   w.cfg.BrandName,
		Description: "Order " + o.Number,
	})
	if err != nil {
		w.rollback(ctx, o, err)
		return nil, fmt.Errorf("create remote order: %w", err)
	}

	bound, err := w.orders.BindExternalPaymentID(ctx, o.ID, remote.ID)
	if err != nil {
		w.rollback(ctx, o, err)
		return nil, fmt.Errorf("bind remote order %s: %w", remote.ID, err)
	}
	logTransition(bound, State(o), sourceCheckout, "remote_created")

	res := &CheckoutResult{
		OrderID:     bound.ID,
		OrderNumber: bound.Number,
		RemoteID:    remote.ID,
		ApprovalURL: remote.ApprovalURL,
		Amount:      conv.Amount,
		Currency:    conv.Currency,
	}
	if !conv.Rate.Equal(decimal.NewFromInt(1)) || conv.Currency != in.Currency {
		res.Conversion = &conv
	}
	return res, nil
}

// rollback cancels o even when the request context is already done.
func (w *Workflow) rollback(ctx context.Context, o *order.Order, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := w.orders.CancelOrder(ctx, o.ID, CodeCheckoutFailed, cause.Error()); err != nil {
		logger.Log.Error("checkout rollback failed",
			zap.String("order_id", o.ID.String()),
			zap.String("order_number", o.Number),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

package payment

import (
	"context"
	"errors"
	"testing"

	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutConvertsAndCaptures(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var sent paypal.CreateOrderRequest
	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		sent = in
		return &paypal.RemoteOrder{ID: "RO-100", Status: paypal.OrderCreated, ApprovalURL: "https://paypal.example/approve/RO-100"}, nil
	}

	res, err := e.wf.Checkout(ctx, sarRequest())
	require.NoError(t, err)
	assert.Equal(t, paypal.Money{CurrencyCode: "USD", Value: "26.67"}, sent.Amount)
	assert.Equal(t, res.OrderNumber, sent.ReferenceID)
	assert.Equal(t, "https://shop.example/checkout/return", sent.ReturnURL)
	assert.Equal(t, "RO-100", res.RemoteID)
	assert.Equal(t, "https://paypal.example/approve/RO-100", res.ApprovalURL)
	assert.Equal(t, "USD", res.Currency)
	require.NotNil(t, res.Conversion)
	assert.True(t, decimal.RequireFromString("0.2667").Equal(res.Conversion.Rate))
	assert.False(t, res.Conversion.UsingFallback)

	o, err := e.svc.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "REMOTE_CREATED", State(o))
	assert.Equal(t, "RO-100", o.ExternalID)
	assert.Equal(t, "SAR", o.Currency)
	assert.True(t, decimal.RequireFromString("100").Equal(o.Total))
	assert.True(t, decimal.RequireFromString("26.67").Equal(o.PaymentAmount))

	e.gw.captureOrderFn = func(ctx context.Context, remoteID string) (*paypal.CaptureResult, error) {
		return completedCapture(remoteID, "CAP-100"), nil
	}
	captured, err := e.wf.Capture(ctx, "RO-100")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCaptured, captured.Status)
	assert.Equal(t, order.StatusConfirmed, captured.Order.OrderStatus)
	assert.Equal(t, order.PaymentCompleted, captured.Order.PaymentStatus)
	assert.Equal(t, "CAP-100", captured.Order.Payment.CaptureID)
	assert.NotNil(t, captured.Order.Payment.CapturedAt)
	assert.JSONEq(t, `{"currency_code":"USD","value":"26.67"}`, string(captured.Order.Payment.CapturedAmount))
	assert.Equal(t, 1, e.mail.count())
}

func TestCheckoutSettlementCurrencyNeedsNoConversion(t *testing.T) {
	e := newTestEnv(t)
	req := sarRequest()
	req.Currency = "usd"
	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		assert.Equal(t, paypal.Money{CurrencyCode: "USD", Value: "100.00"}, in.Amount)
		return &paypal.RemoteOrder{ID: "RO-USD", ApprovalURL: "https://paypal.example/approve"}, nil
	}
	res, err := e.wf.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res.Conversion)
}

func TestCheckoutRemoteTimeoutRollsBack(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		return nil, &paypal.RequestError{Op: "create order", Err: context.DeadlineExceeded}
	}

	_, err := e.wf.Checkout(ctx, sarRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pending, err := e.svc.List(ctx, order.Filter{OrderStatus: order.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := e.svc.List(ctx, order.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "FAILED", State(&all[0]))
	assert.Equal(t, CodeCheckoutFailed, all[0].Payment.FailureCode)
	assert.Empty(t, all[0].ExternalID)
}

func TestCheckoutRollbackSurvivesCancelledRequest(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	e.gw.createOrderFn = func(reqCtx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		cancel()
		return nil, &paypal.RequestError{Op: "create order", Err: context.Canceled}
	}

	_, err := e.wf.Checkout(ctx, sarRequest())
	require.Error(t, err)

	all, err := e.svc.List(context.Background(), order.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, order.StatusCancelled, all[0].OrderStatus)
}

func TestCheckoutConversionFailureCreatesNothing(t *testing.T) {
	e := newTestEnv(t)
	e.build(stubRates{err: errors.New("rates feed down")})
	req := sarRequest()
	req.Currency = "XAU"

	_, err := e.wf.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrConversion)

	all, err := e.svc.List(context.Background(), order.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckoutFallsBackToStaticRate(t *testing.T) {
	e := newTestEnv(t)
	e.build(stubRates{err: errors.New("rates feed down")})
	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		return &paypal.RemoteOrder{ID: "RO-FB", ApprovalURL: "https://paypal.example/approve"}, nil
	}
	res, err := e.wf.Checkout(context.Background(), sarRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Conversion)
	assert.True(t, res.Conversion.UsingFallback)
	assert.True(t, decimal.RequireFromString("26.66").Equal(res.Amount))
}

func TestCheckoutAuthFailureCreatesNothing(t *testing.T) {
	e := newTestEnv(t)
	e.gw.authenticateFn = func(ctx context.Context, creds paypal.Credentials) (*paypal.AccessToken, error) {
		return nil, &paypal.AuthError{StatusCode: 401, Code: "invalid_client", Description: "Client Authentication failed"}
	}
	_, err := e.wf.Checkout(context.Background(), sarRequest())
	var authErr *paypal.AuthError
	assert.ErrorAs(t, err, &authErr)

	all, err := e.svc.List(context.Background(), order.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckoutValidation(t *testing.T) {
	e := newTestEnv(t)

	req := sarRequest()
	wrong := decimal.RequireFromString("90")
	req.Amount = &wrong
	_, err := e.wf.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, orders.ErrValidation)

	req = sarRequest()
	req.Items = nil
	_, err = e.wf.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestCheckoutBindConflictRollsBack(t *testing.T) {
	e := newTestEnv(t)
	first := e.checkout(t)

	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		return &paypal.RemoteOrder{ID: first.ExternalID, ApprovalURL: "https://paypal.example/approve"}, nil
	}
	_, err := e.wf.Checkout(context.Background(), sarRequest())
	assert.ErrorIs(t, err, orders.ErrExternalIDTaken)

	pending, err := e.svc.List(context.Background(), order.Filter{OrderStatus: order.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

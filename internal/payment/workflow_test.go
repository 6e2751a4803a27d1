package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/currency"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/storage/memory"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var errUnexpectedCall = errors.New("unexpected gateway call")

type stubGateway struct {
	mu           sync.Mutex
	captureCalls int

	authenticateFn func(ctx context.Context, creds paypal.Credentials) (*paypal.AccessToken, error)
	createOrderFn  func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error)
	captureOrderFn func(ctx context.Context, remoteID string) (*paypal.CaptureResult, error)
	getOrderFn     func(ctx context.Context, remoteID string) (*paypal.CaptureResult, error)
	refundFn       func(ctx context.Context, captureID, requestID string) (*paypal.Refund, error)
	verifyFn       func(ctx context.Context, webhookID string, h paypal.SignatureHeaders, body []byte) (bool, error)
}

func (g *stubGateway) Authenticate(ctx context.Context, creds paypal.Credentials) (*paypal.AccessToken, error) {
	if g.authenticateFn == nil {
		return &paypal.AccessToken{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return g.authenticateFn(ctx, creds)
}
func (g *stubGateway) CreateOrder(ctx context.Context, token *paypal.AccessToken, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
	if g.createOrderFn == nil {
		return nil, errUnexpectedCall
	}
	return g.createOrderFn(ctx, in)
}
func (g *stubGateway) CaptureOrder(ctx context.Context, token *paypal.AccessToken, remoteID string) (*paypal.CaptureResult, error) {
	g.mu.Lock()
	g.captureCalls++
	g.mu.Unlock()
	if g.captureOrderFn == nil {
		return nil, errUnexpectedCall
	}
	return g.captureOrderFn(ctx, remoteID)
}
func (g *stubGateway) GetOrder(ctx context.Context, token *paypal.AccessToken, remoteID string) (*paypal.CaptureResult, error) {
	if g.getOrderFn == nil {
		return nil, errUnexpectedCall
	}
	return g.getOrderFn(ctx, remoteID)
}
func (g *stubGateway) RefundCapture(ctx context.Context, token *paypal.AccessToken, captureID, requestID string) (*paypal.Refund, error) {
	if g.refundFn == nil {
		return nil, errUnexpectedCall
	}
	return g.refundFn(ctx, captureID, requestID)
}
func (g *stubGateway) VerifyWebhookSignature(ctx context.Context, token *paypal.AccessToken, webhookID string, h paypal.SignatureHeaders, body []byte) (bool, error) {
	if g.verifyFn == nil {
		return false, errUnexpectedCall
	}
	return g.verifyFn(ctx, webhookID, h, body)
}

func (g *stubGateway) captures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

type stubMailer struct {
	mu    sync.Mutex
	sent  []string
	err   error
	delay time.Duration
}

func (m *stubMailer) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, o.Number)
	return m.err
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type stubRates struct {
	rate decimal.Decimal
	err  error
}

func (s stubRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return s.rate, s.err
}

type testEnv struct {
	store *memory.Storage
	svc   *orders.Service
	gw    *stubGateway
	mail  *stubMailer
	wf    *Workflow
	creds paypal.StaticCredentials
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store: memory.New(),
		gw:    &stubGateway{},
		mail:  &stubMailer{},
		creds: paypal.StaticCredentials{ClientID: "client", Secret: "secret"},
	}
	e.svc = orders.NewService(e.store)
	e.build(stubRates{rate: decimal.RequireFromString("0.2667")})
	return e
}

// build wires the workflow again after a dependency was swapped.
func (e *testEnv) build(rates currency.RateSource) {
	conv := currency.NewConverter(rates, "USD", []string{"USD", "EUR"}, time.Minute)
	e.wf = NewWorkflow(e.svc, e.gw, e.creds, conv, e.mail, e.store, Config{
		ReturnURL:       "https://shop.example/checkout/return",
		CancelURL:       "https://shop.example/checkout/cancel",
		BrandName:       "Perfume Shop",
		NotYetKnownWait: 200 * time.Millisecond,
	})
}

func sarRequest() CheckoutRequest {
	return CheckoutRequest{
		Customer: order.Customer{Name: "Noura", Email: "noura@example.com", City: "Riyadh", Country: "SA"},
		Items: []order.LineItem{
			{ProductID: "oud-royal", Name: "Oud Royal", Quantity: 1, UnitPrice: decimal.RequireFromString("100")},
		},
		Currency: "SAR",
	}
}

var remoteSeq struct {
	sync.Mutex
	n int
}

func nextRemoteID() string {
	remoteSeq.Lock()
	defer remoteSeq.Unlock()
	remoteSeq.n++
	return fmt.Sprintf("5O%014dT", remoteSeq.n)
}

// checkout runs a successful checkout and returns the bound order.
func (e *testEnv) checkout(t *testing.T) *order.Order {
	t.Helper()
	e.gw.createOrderFn = func(ctx context.Context, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error) {
		id := nextRemoteID()
		return &paypal.RemoteOrder{ID: id, Status: paypal.OrderCreated, ApprovalURL: "https://www.sandbox.paypal.com/checkoutnow?token=" + id}, nil
	}
	res, err := e.wf.Checkout(context.Background(), sarRequest())
	require.NoError(t, err)
	o, err := e.svc.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	return o
}

func completedCapture(remoteID, captureID string) *paypal.CaptureResult {
	return &paypal.CaptureResult{
		Status:      paypal.CaptureCompleted,
		RemoteID:    remoteID,
		RemoteState: paypal.OrderCompleted,
		CaptureID:   captureID,
		Amount:      paypal.Money{CurrencyCode: "USD", Value: "26.67"},
	}
}

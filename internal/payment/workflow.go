// Package payment drives orders through checkout, capture, webhook delivery,
// refund and background reconciliation against PayPal.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/currency"
	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway is the subset of the PayPal client the workflow drives.
type Gateway interface {
	Authenticate(ctx context.Context, creds paypal.Credentials) (*paypal.AccessToken, error)
	CreateOrder(ctx context.Context, token *paypal.AccessToken, in paypal.CreateOrderRequest) (*paypal.RemoteOrder, error)
	CaptureOrder(ctx context.Context, token *paypal.AccessToken, remoteID string) (*paypal.CaptureResult, error)
	GetOrder(ctx context.Context, token *paypal.AccessToken, remoteID string) (*paypal.CaptureResult, error)
	RefundCapture(ctx context.Context, token *paypal.AccessToken, captureID, requestID string) (*paypal.Refund, error)
	VerifyWebhookSignature(ctx context.Context, token *paypal.AccessToken, webhookID string, headers paypal.SignatureHeaders, body []byte) (bool, error)
}

// CredentialsSource resolves gateway credentials for one request.
type CredentialsSource interface {
	Credentials(ctx context.Context) (paypal.Credentials, error)
}

type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from string) (currency.Conversion, error)
}

type Mailer interface {
	SendOrderConfirmation(ctx context.Context, o *order.Order) error
}

// EventStore remembers processed webhook event ids.
type EventStore interface {
	EventSeen(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

type Config struct {
	ReturnURL   string
	CancelURL   string
	BrandName   string
	MailTimeout time.Duration
	// NotYetKnownWait bounds how long a webhook waits for its order to be bound.
	NotYetKnownWait time.Duration
	OrphanTTL       time.Duration
	RemoteOrderTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MailTimeout <= 0 {
		c.MailTimeout = 10 * time.Second
	}
	if c.NotYetKnownWait <= 0 {
		c.NotYetKnownWait = 3 * time.Second
	}
	if c.OrphanTTL <= 0 {
		c.OrphanTTL = 15 * time.Minute
	}
	if c.RemoteOrderTTL <= 0 {
		c.RemoteOrderTTL = 3 * time.Hour
	}
	return c
}

type Workflow struct {
	orders    *orders.Service
	gateway   Gateway
	creds     CredentialsSource
	converter Converter
	mailer    Mailer
	events    EventStore
	cfg       Config
	now       func() time.Time
}

func NewWorkflow(svc *orders.Service, gw Gateway, creds CredentialsSource, conv Converter, m Mailer, events EventStore, cfg Config) *Workflow {
	return &Workflow{
		orders:    svc,
		gateway:   gw,
		creds:     creds,
		converter: conv,
		mailer:    m,
		events:    events,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

const (
	sourceCheckout = "checkout"
	sourceCapture  = "capture"
	sourceWebhook  = "webhook"
	sourcePoll     = "poll"
	sourceAdmin    = "admin"
)

// State names the position of o in the payment state machine.
func State(o *order.Order) string {
	switch {
	case o.PaymentStatus == order.PaymentCompleted:
		return "CAPTURED"
	case o.PaymentStatus == order.PaymentRefunded:
		return "REFUNDED"
	case o.PaymentStatus == order.PaymentFailed:
		return "FAILED"
	case o.ExternalID == "":
		return "CREATED"
	case o.PaymentStatus == order.PaymentApproved:
		return "APPROVED"
	default:
		return "REMOTE_CREATED"
	}
}

func logTransition(o *order.Order, from, source, outcome string) {
	logger.Log.Info("payment transition",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.Number),
		zap.String("external_id", o.ExternalID),
		zap.String("from", from),
		zap.String("to", State(o)),
		zap.String("source", source),
		zap.String("outcome", outcome),
	)
}

// authorize resolves credentials and fetches a fresh access token.
func (w *Workflow) authorize(ctx context.Context) (*paypal.AccessToken, paypal.Credentials, error) {
	creds, err := w.creds.Credentials(ctx)
	if err != nil {
		return nil, creds, err
	}
	token, err := w.gateway.Authenticate(ctx, creds)
	if err != nil {
		return nil, creds, err
	}
	return token, creds, nil
}

// captureDetails is what a successful capture tells us, from any path.
type captureDetails struct {
	CaptureID string
	Amount    paypal.Money
}

var (
	openPayment = []order.PaymentStatus{order.PaymentPending, order.PaymentApproved}
	paidPayment = []order.PaymentStatus{order.PaymentCompleted}
)

// markCaptured moves an open order to CAPTURED. applied is false when another
// path already moved it; the returned order is then the stored one.
func (w *Workflow) markCaptured(ctx context.Context, o *order.Order, d captureDetails, source string) (*order.Order, bool, error) {
	from := State(o)
	now := w.now().UTC()
	amount, _ := json.Marshal(d.Amount)
	u := order.Update{
		OrderStatus:    order.StatusConfirmed,
		PaymentStatus:  order.PaymentCompleted,
		CaptureID:      &d.CaptureID,
		CapturedAt:     &now,
		CapturedAmount: amount,
		GuardPayment:   openPayment,
	}
	if source == sourceWebhook {
		processed := true
		u.WebhookProcessed = &processed
	}
	updated, err := w.orders.UpdateOrderStatus(ctx, orders.ByID(o.ID), u)
	if errors.Is(err, orders.ErrTransitionRejected) {
		if updated.Captured() || updated.PaymentStatus == order.PaymentRefunded {
			w.noteWebhook(ctx, updated, source)
			return updated, false, nil
		}
		logger.Log.Error("capture reported for a closed order",
			zap.String("order_id", updated.ID.String()),
			zap.String("order_number", updated.Number),
			zap.String("capture_id", d.CaptureID),
			zap.String("payment_status", string(updated.PaymentStatus)),
			zap.String("source", source),
		)
		return updated, false, ErrNotPayable
	}
	if err != nil {
		return nil, false, err
	}
	logTransition(updated, from, source, "captured")
	w.sendConfirmation(ctx, updated)
	return updated, true, nil
}

// noteWebhook flags a captured order as seen by a webhook when the capture
// itself arrived through another path.
func (w *Workflow) noteWebhook(ctx context.Context, o *order.Order, source string) {
	if source != sourceWebhook || o.Payment.WebhookProcessed {
		return
	}
	processed := true
	_, err := w.orders.UpdateOrderStatus(ctx, orders.ByID(o.ID), order.Update{
		WebhookProcessed: &processed,
		GuardPayment:     []order.PaymentStatus{o.PaymentStatus},
	})
	if err != nil && !errors.Is(err, orders.ErrTransitionRejected) {
		logger.Log.Warn("mark webhook processed", zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

// markFailed moves an open order to FAILED with the provider code kept on it.
func (w *Workflow) markFailed(ctx context.Context, o *order.Order, code, reason, source string) (*order.Order, bool, error) {
	from := State(o)
	u := order.Update{
		OrderStatus:   order.StatusCancelled,
		PaymentStatus: order.PaymentFailed,
		FailureCode:   &code,
		FailureReason: &reason,
		GuardPayment:  openPayment,
	}
	if source == sourceWebhook {
		processed := true
		u.WebhookProcessed = &processed
	}
	updated, err := w.orders.UpdateOrderStatus(ctx, orders.ByID(o.ID), u)
	if errors.Is(err, orders.ErrTransitionRejected) {
		return updated, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	logTransition(updated, from, source, code)
	return updated, true, nil
}

// markPending records an approved but not yet settled payment.
func (w *Workflow) markPending(ctx context.Context, o *order.Order, reason, source string) (*order.Order, error) {
	if o.PaymentStatus == order.PaymentApproved {
		return o, nil
	}
	from := State(o)
	updated, err := w.orders.UpdateOrderStatus(ctx, orders.ByID(o.ID), order.Update{
		PaymentStatus: order.PaymentApproved,
		GuardPayment:  []order.PaymentStatus{order.PaymentPending},
	})
	if errors.Is(err, orders.ErrTransitionRejected) {
		return updated, nil
	}
	if err != nil {
		return nil, err
	}
	logTransition(updated, from, source, "pending:"+reason)
	return updated, nil
}

// markRefunded is the one move out of a completed payment.
func (w *Workflow) markRefunded(ctx context.Context, o *order.Order, refundID, source string) (*order.Order, bool, error) {
	from := State(o)
	now := w.now().UTC()
	u := order.Update{
		PaymentStatus: order.PaymentRefunded,
		RefundID:      &refundID,
		RefundedAt:    &now,
		GuardPayment:  paidPayment,
	}
	if o.OrderStatus != order.StatusDelivered {
		u.OrderStatus = order.StatusCancelled
	}
	updated, err := w.orders.UpdateOrderStatus(ctx, orders.ByID(o.ID), u)
	if errors.Is(err, orders.ErrTransitionRejected) {
		if updated.PaymentStatus == order.PaymentRefunded {
			return updated, false, nil
		}
		return updated, false, ErrNotRefundable
	}
	if err != nil {
		return nil, false, err
	}
	logTransition(updated, from, source, "refunded")
	return updated, true, nil
}

// sendConfirmation is best effort: failures are logged and never returned.
func (w *Workflow) sendConfirmation(ctx context.Context, o *order.Order) {
	if w.mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.MailTimeout)
	defer cancel()
	if err := w.mailer.SendOrderConfirmation(ctx, o); err != nil {
		logger.Log.Warn("order confirmation email failed",
			zap.String("order_id", o.ID.String()),
			zap.String("order_number", o.Number),
			zap.Error(err),
		)
	}
}

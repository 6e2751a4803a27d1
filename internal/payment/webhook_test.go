package payment

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureEvent(eventType, eventID, remoteID, captureID, customID, status string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "event_type": %q,
  "resource_type": "capture",
  "create_time": "2024-05-01T10:00:00Z",
  "resource": {
    "id": %q,
    "status": %q,
    "custom_id": %q,
    "amount": {"currency_code": "USD", "value": "26.67"},
    "supplementary_data": {"related_ids": {"order_id": %q}}
  }
}`, eventID, eventType, captureID, status, customID, remoteID))
}

func orderEvent(eventType, eventID, remoteID, customID string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "event_type": %q,
  "resource_type": "checkout-order",
  "resource": {
    "id": %q,
    "status": "APPROVED",
    "purchase_units": [{"reference_id": %q, "custom_id": %q}]
  }
}`, eventID, eventType, remoteID, customID, customID))
}

func refundEvent(eventID, remoteID, captureID, refundID string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "event_type": "PAYMENT.CAPTURE.REFUNDED",
  "resource_type": "refund",
  "resource": {
    "id": %q,
    "status": "COMPLETED",
    "amount": {"currency_code": "USD", "value": "26.67"},
    "supplementary_data": {"related_ids": {"order_id": %q, "capture_id": %q}}
  }
}`, eventID, refundID, remoteID, captureID))
}

func TestWebhookThenCapture(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	ctx := context.Background()

	outcome, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-1", o.ExternalID, "CAP-W", o.Number, "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	after, err := e.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", State(after))
	assert.Equal(t, "CAP-W", after.Payment.CaptureID)
	assert.True(t, after.Payment.WebhookProcessed)

	res, err := e.wf.Capture(ctx, o.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Status)
	assert.Equal(t, 0, e.gw.captures())
	assert.Equal(t, 1, e.mail.count())
}

func TestCaptureThenWebhook(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	ctx := context.Background()
	e.gw.captureOrderFn = func(ctx context.Context, remoteID string) (*paypal.CaptureResult, error) {
		return completedCapture(remoteID, "CAP-C"), nil
	}

	_, err := e.wf.Capture(ctx, o.ExternalID)
	require.NoError(t, err)

	outcome, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-2", o.ExternalID, "CAP-C", o.Number, "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	after, err := e.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", State(after))
	assert.True(t, after.Payment.WebhookProcessed)
	assert.Equal(t, 1, e.mail.count())
}

func TestWebhookDuplicateEvent(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	body := captureEvent(paypal.EventCaptureCompleted, "WH-DUP", o.ExternalID, "CAP-D", o.Number, "COMPLETED")

	outcome, err := e.wf.HandleWebhook(context.Background(), nil, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	outcome, err = e.wf.HandleWebhook(context.Background(), nil, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)
	assert.Equal(t, 1, e.mail.count())
}

func TestWebhookUnknownOrder(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	ctx := context.Background()

	_, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-X", "RO-NOBODY", "CAP-X", "PF000000000000", "COMPLETED"))
	assert.ErrorIs(t, err, ErrLocalOrderNotFound)

	all, err := e.svc.List(ctx, order.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "REMOTE_CREATED", State(&all[0]))

	outcome, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-Y", o.ExternalID, "CAP-Y", o.Number, "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)
}

func TestWebhookOrderNotYetKnown(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	o, err := e.svc.CreatePendingOrder(ctx, orders.NewOrder{
		Customer: sarRequest().Customer,
		Items:    sarRequest().Items,
		Currency: "SAR",
	})
	require.NoError(t, err)

	_, err = e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-EARLY", "RO-EARLY", "CAP-E", o.Number, "COMPLETED"))
	assert.ErrorIs(t, err, ErrOrderNotYetKnown)

	after, err := e.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "CREATED", State(after))

	// the bind lands while the webhook is still retrying
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = e.svc.BindExternalPaymentID(context.Background(), o.ID, "RO-EARLY")
	}()
	e.wf.cfg.NotYetKnownWait = 3 * time.Second
	outcome, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-EARLY-2", "RO-EARLY", "CAP-E", o.Number, "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	after, err = e.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", State(after))
}

func TestWebhookIgnoresIrrelevantEvents(t *testing.T) {
	e := newTestEnv(t)
	body := []byte(`{"id":"WH-I","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{"dispute_id":"PP-D-1"}}`)
	outcome, err := e.wf.HandleWebhook(context.Background(), nil, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)
}

func TestWebhookIgnoredWhileGatewayDown(t *testing.T) {
	e := newTestEnv(t)
	e.gw.authenticateFn = func(ctx context.Context, creds paypal.Credentials) (*paypal.AccessToken, error) {
		return nil, &paypal.RequestError{Op: "authenticate", Err: context.DeadlineExceeded}
	}

	body := []byte(`{"id":"WH-I2","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{"dispute_id":"PP-D-2"}}`)
	outcome, err := e.wf.HandleWebhook(context.Background(), nil, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)

	relevant := captureEvent(paypal.EventCaptureCompleted, "WH-I3", "RO-X", "CAP-X", "PF0", "COMPLETED")
	_, err = e.wf.HandleWebhook(context.Background(), nil, relevant)
	assert.Error(t, err)
}

func TestWebhookInvalidBody(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.wf.HandleWebhook(context.Background(), nil, []byte(`{"event_type":`))
	assert.ErrorIs(t, err, paypal.ErrInvalidEvent)
}

func TestWebhookSignature(t *testing.T) {
	e := newTestEnv(t)
	e.creds.WebhookID = "WH-CONFIG-1"
	e.build(stubRates{rate: decimal.RequireFromString("0.2667")})
	o := e.checkout(t)

	header := http.Header{}
	header.Set("Paypal-Auth-Algo", "SHA256withRSA")
	header.Set("Paypal-Cert-Url", "https://api.sandbox.paypal.com/v1/notifications/certs/CERT-1")
	header.Set("Paypal-Transmission-Id", "tx-1")
	header.Set("Paypal-Transmission-Sig", "sig")
	header.Set("Paypal-Transmission-Time", "2024-05-01T10:00:00Z")

	valid := false
	e.gw.verifyFn = func(ctx context.Context, webhookID string, h paypal.SignatureHeaders, body []byte) (bool, error) {
		assert.Equal(t, "WH-CONFIG-1", webhookID)
		assert.Equal(t, "tx-1", h.TransmissionID)
		return valid, nil
	}

	body := captureEvent(paypal.EventCaptureCompleted, "WH-S", o.ExternalID, "CAP-S", o.Number, "COMPLETED")
	_, err := e.wf.HandleWebhook(context.Background(), header, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	after, err := e.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "REMOTE_CREATED", State(after))

	valid = true
	outcome, err := e.wf.HandleWebhook(context.Background(), header, body)
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)
}

func TestWebhookDeniedAndCompletedNeverFlip(t *testing.T) {
	t.Run("denied first", func(t *testing.T) {
		e := newTestEnv(t)
		o := e.checkout(t)
		_, err := e.wf.HandleWebhook(context.Background(), nil, captureEvent(paypal.EventCaptureDenied, "WH-D1", o.ExternalID, "CAP-1", o.Number, "DECLINED"))
		require.NoError(t, err)
		_, err = e.wf.HandleWebhook(context.Background(), nil, captureEvent(paypal.EventCaptureCompleted, "WH-D2", o.ExternalID, "CAP-1", o.Number, "COMPLETED"))
		require.NoError(t, err)

		after, err := e.svc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, "FAILED", State(after))
		assert.Equal(t, paypal.IssueCaptureDeclined, after.Payment.FailureCode)
		assert.Equal(t, 0, e.mail.count())
	})

	t.Run("completed first", func(t *testing.T) {
		e := newTestEnv(t)
		o := e.checkout(t)
		_, err := e.wf.HandleWebhook(context.Background(), nil, captureEvent(paypal.EventCaptureCompleted, "WH-C1", o.ExternalID, "CAP-1", o.Number, "COMPLETED"))
		require.NoError(t, err)
		_, err = e.wf.HandleWebhook(context.Background(), nil, captureEvent(paypal.EventCaptureDenied, "WH-C2", o.ExternalID, "CAP-1", o.Number, "DECLINED"))
		require.NoError(t, err)

		after, err := e.svc.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, "CAPTURED", State(after))
	})
}

func TestWebhookPendingCapture(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	_, err := e.wf.HandleWebhook(context.Background(), nil, captureEvent(paypal.EventCapturePending, "WH-P", o.ExternalID, "CAP-P", o.Number, "PENDING"))
	require.NoError(t, err)

	after, err := e.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", State(after))
	assert.Equal(t, order.StatusPending, after.OrderStatus)
}

func TestWebhookOrderApprovedTriggersCapture(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	e.gw.captureOrderFn = func(ctx context.Context, remoteID string) (*paypal.CaptureResult, error) {
		return completedCapture(remoteID, "CAP-A"), nil
	}

	outcome, err := e.wf.HandleWebhook(context.Background(), nil, orderEvent(paypal.EventOrderApproved, "WH-A", o.ExternalID, o.Number))
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, outcome)

	after, err := e.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", State(after))
	assert.True(t, after.Payment.WebhookProcessed)
	assert.Equal(t, 1, e.gw.captures())
}

func TestWebhookRefund(t *testing.T) {
	e := newTestEnv(t)
	o := e.checkout(t)
	ctx := context.Background()
	_, err := e.wf.HandleWebhook(ctx, nil, captureEvent(paypal.EventCaptureCompleted, "WH-R1", o.ExternalID, "CAP-R", o.Number, "COMPLETED"))
	require.NoError(t, err)

	_, err = e.wf.HandleWebhook(ctx, nil, refundEvent("WH-R2", o.ExternalID, "CAP-R", "REF-1"))
	require.NoError(t, err)

	after, err := e.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "REFUNDED", State(after))
	assert.Equal(t, "REF-1", after.Payment.RefundID)
	assert.Equal(t, order.StatusCancelled, after.OrderStatus)
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

var handledEvents = map[string]bool{
	paypal.EventOrderApproved:    true,
	paypal.EventOrderCompleted:   true,
	paypal.EventCaptureCompleted: true,
	paypal.EventCaptureDenied:    true,
	paypal.EventCaptureDeclined:  true,
	paypal.EventCapturePending:   true,
	paypal.EventCaptureRefunded:  true,
	paypal.EventCaptureReversed:  true,
}

// HandleWebhook applies one provider delivery. Errors other than a bad body,
// a bad signature or an unknown order are meant to be retried by the provider.
func (w *Workflow) HandleWebhook(ctx context.Context, header http.Header, body []byte) (WebhookOutcome, error) {
	ev, err := paypal.ParseWebhookEvent(body)
	if err != nil {
		return "", err
	}
	log := logger.Log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.EventType))

	if !handledEvents[ev.EventType] {
		log.Info("webhook ignored")
		return WebhookIgnored, nil
	}

	token, creds, err := w.authorize(ctx)
	if err != nil {
		return "", err
	}
	if creds.WebhookID != "" {
		ok, err := w.gateway.VerifyWebhookSignature(ctx, token, creds.WebhookID, paypal.SignatureHeadersFrom(header), body)
		if err != nil {
			return "", fmt.Errorf("verify webhook: %w", err)
		}
		if !ok {
			log.Warn("webhook signature rejected")
			return "", ErrInvalidSignature
		}
	} else {
		log.Warn("webhook signature not verified: no webhook id configured")
	}

	if w.events != nil {
		seen, err := w.events.EventSeen(ctx, ev.ID)
		if err != nil {
			log.Warn("webhook dedup lookup failed", zap.Error(err))
		} else if seen {
			log.Info("webhook duplicate")
			return WebhookDuplicate, nil
		}
	}

	target, err := ev.Target()
	if err != nil {
		return "", err
	}
	o, err := w.resolveWebhookOrder(ctx, target)
	if err != nil {
		log.Warn("webhook order lookup failed",
			zap.String("external_id", target.RemoteOrderID),
			zap.String("custom_id", target.CustomID),
			zap.Error(err),
		)
		return "", err
	}

	if err := w.applyEvent(ctx, ev.EventType, o, target, token); err != nil {
		return "", err
	}

	if w.events != nil {
		if err := w.events.RecordEvent(ctx, ev.ID, ev.EventType); err != nil {
			log.Warn("webhook dedup record failed", zap.Error(err))
		}
	}
	return WebhookApplied, nil
}

func (w *Workflow) applyEvent(ctx context.Context, eventType string, o *order.Order, t *paypal.EventTarget, token *paypal.AccessToken) error {
	switch eventType {
	case paypal.EventOrderApproved:
		if settled(o) != nil || closedError(o) != nil {
			return nil
		}
		_, err := w.capture(ctx, o, token, sourceWebhook)
		var denied *DeniedError
		if errors.As(err, &denied) {
			// the order now records the refusal; nothing for the provider to retry
			return nil
		}
		return err

	case paypal.EventOrderCompleted, paypal.EventCaptureCompleted:
		d := captureDetails{CaptureID: t.CaptureID, Amount: t.Amount}
		if d.CaptureID == "" {
			remote, err := w.gateway.GetOrder(ctx, token, o.ExternalID)
			if err != nil {
				return fmt.Errorf("lookup completed order %s: %w", o.ExternalID, err)
			}
			d = captureDetails{CaptureID: remote.CaptureID, Amount: remote.Amount}
		}
		_, _, err := w.markCaptured(ctx, o, d, sourceWebhook)
		if errors.Is(err, ErrNotPayable) {
			return nil
		}
		return err

	case paypal.EventCapturePending:
		_, err := w.markPending(ctx, o, t.Reason, sourceWebhook)
		return err

	case paypal.EventCaptureDenied, paypal.EventCaptureDeclined:
		reason := t.Reason
		if reason == "" {
			reason = eventType
		}
		_, _, err := w.markFailed(ctx, o, paypal.IssueCaptureDeclined, reason, sourceWebhook)
		return err

	case paypal.EventCaptureRefunded, paypal.EventCaptureReversed:
		_, _, err := w.markRefunded(ctx, o, t.RefundID, sourceWebhook)
		if errors.Is(err, ErrNotRefundable) {
			logger.Log.Warn("refund event for an order without completed payment",
				zap.String("order_id", o.ID.String()),
				zap.String("payment_status", string(o.PaymentStatus)),
			)
			return nil
		}
		return err
	}
	return nil
}

// resolveWebhookOrder finds the local order an event refers to. An order that
// exists under the event's custom id but has no remote id bound yet is retried
// for a short while and then reported as ErrOrderNotYetKnown.
func (w *Workflow) resolveWebhookOrder(ctx context.Context, t *paypal.EventTarget) (*order.Order, error) {
	op := func() (*order.Order, error) {
		if t.RemoteOrderID != "" {
			o, err := w.orders.FindByExternalPaymentID(ctx, t.RemoteOrderID)
			if err == nil {
				return o, nil
			}
			if !errors.Is(err, orders.ErrOrderNotFound) {
				return nil, err
			}
		}
		if t.CustomID != "" {
			o, err := w.orders.FindByNumber(ctx, t.CustomID)
			switch {
			case err == nil && o.ExternalID == "":
				return nil, ErrOrderNotYetKnown
			case err == nil && (t.RemoteOrderID == "" || o.ExternalID == t.RemoteOrderID):
				return o, nil
			case err == nil:
				return nil, backoff.Permanent(ErrLocalOrderNotFound)
			case !errors.Is(err, orders.ErrOrderNotFound) && !errors.Is(err, orders.ErrInvalidOrderNumber):
				return nil, err
			}
		}
		return nil, backoff.Permanent(ErrLocalOrderNotFound)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(w.cfg.NotYetKnownWait),
	)
}

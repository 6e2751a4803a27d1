package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeCaptured         Outcome = "captured"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomePending          Outcome = "pending"
)

type CaptureResult struct {
	Status Outcome      `json:"status"`
	Order  *order.Order `json:"order"`
}

// Capture finalizes the payment for the order bound to remoteID. Capturing an
// order that is already captured returns OutcomeAlreadyProcessed.
func (w *Workflow) Capture(ctx context.Context, remoteID string) (*CaptureResult, error) {
	o, err := w.orders.FindByExternalPaymentID(ctx, remoteID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		logger.Log.Error("capture for unknown remote order", zap.String("external_id", remoteID))
		return nil, ErrLocalOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if done := settled(o); done != nil {
		return done, nil
	}
	if err := closedError(o); err != nil {
		return nil, err
	}

	token, _, err := w.authorize(ctx)
	if err != nil {
		return nil, err
	}
	return w.capture(ctx, o, token, sourceCapture)
}

// settled short-circuits orders whose payment already went through.
func settled(o *order.Order) *CaptureResult {
	if o.PaymentStatus.Paid() {
		return &CaptureResult{Status: OutcomeAlreadyProcessed, Order: o}
	}
	return nil
}

// closedError reports why a failed or cancelled order cannot be captured.
func closedError(o *order.Order) error {
	if o.PaymentStatus.Open() && o.OrderStatus != order.StatusCancelled {
		return nil
	}
	if o.Payment.FailureCode != "" {
		return &DeniedError{Code: o.Payment.FailureCode, Reason: o.Payment.FailureReason}
	}
	return ErrNotPayable
}

func (w *Workflow) capture(ctx context.Context, o *order.Order, token *paypal.AccessToken, source string) (*CaptureResult, error) {
	res, err := w.gateway.CaptureOrder(ctx, token, o.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", o.ExternalID, err)
	}
	return w.applyCapture(ctx, o, token, res, source)
}

// applyCapture maps a gateway capture outcome onto the order.
func (w *Workflow) applyCapture(ctx context.Context, o *order.Order, token *paypal.AccessToken, res *paypal.CaptureResult, source string) (*CaptureResult, error) {
	switch res.Status {
	case paypal.CaptureCompleted:
		updated, applied, err := w.markCaptured(ctx, o, captureDetails{CaptureID: res.CaptureID, Amount: res.Amount}, source)
		if err != nil {
			return nil, err
		}
		if !applied {
			return &CaptureResult{Status: OutcomeAlreadyProcessed, Order: updated}, nil
		}
		return &CaptureResult{Status: OutcomeCaptured, Order: updated}, nil

	case paypal.CaptureAlreadyCaptured:
		// The provider holds the capture; pull its details to settle locally.
		remote, err := w.gateway.GetOrder(ctx, token, o.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("lookup captured order %s: %w", o.ExternalID, err)
		}
		if remote.Status != paypal.CaptureCompleted {
			return nil, fmt.Errorf("%w: %s reported captured but is %s", paypal.ErrMalformedResponse, o.ExternalID, remote.RemoteState)
		}
		updated, _, err := w.markCaptured(ctx, o, captureDetails{CaptureID: remote.CaptureID, Amount: remote.Amount}, source)
		if err != nil {
			return nil, err
		}
		return &CaptureResult{Status: OutcomeAlreadyProcessed, Order: updated}, nil

	case paypal.CapturePending:
		updated, err := w.markPending(ctx, o, res.Reason, source)
		if err != nil {
			return nil, err
		}
		return &CaptureResult{Status: OutcomePending, Order: updated}, nil

	default:
		code := res.IssueCode
		if code == "" {
			code = CodePaymentFailed
		}
		reason := res.Message
		if reason == "" {
			reason = res.Reason
		}
		logger.Log.Warn("capture refused",
			zap.String("order_id", o.ID.String()),
			zap.String("external_id", o.ExternalID),
			zap.String("issue", code),
			zap.String("debug_id", res.DebugID),
			zap.ByteString("provider_body", res.Raw),
		)
		updated, _, err := w.markFailed(ctx, o, code, reason, source)
		if err != nil {
			return nil, err
		}
		if updated.PaymentStatus.Paid() {
			return &CaptureResult{Status: OutcomeAlreadyProcessed, Order: updated}, nil
		}
		return nil, &DeniedError{Code: code, Reason: reason}
	}
}

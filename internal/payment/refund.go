package payment

import (
	"context"
	"fmt"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Refund returns the full captured amount of order id through the gateway.
// Refunding an already refunded order returns it unchanged.
func (w *Workflow) Refund(ctx context.Context, id uuid.UUID, reason string) (*order.Order, error) {
	o, err := w.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == order.PaymentRefunded {
		return o, nil
	}
	if o.PaymentStatus != order.PaymentCompleted || o.Payment.CaptureID == "" {
		return o, ErrNotRefundable
	}

	token, _, err := w.authorize(ctx)
	if err != nil {
		return nil, err
	}
	// the request id keys PayPal's idempotency, so a retried refund is not doubled
	refund, err := w.gateway.RefundCapture(ctx, token, o.Payment.CaptureID, "refund-"+o.ID.String())
	if err != nil {
		return nil, fmt.Errorf("refund capture %s: %w", o.Payment.CaptureID, err)
	}
	logger.Log.Info("refund issued",
		zap.String("order_id", o.ID.String()),
		zap.String("refund_id", refund.ID),
		zap.String("refund_status", refund.Status),
		zap.String("reason", reason),
	)

	updated, _, err := w.markRefunded(context.WithoutCancel(ctx), o, refund.ID, sourceAdmin)
	return updated, err
}

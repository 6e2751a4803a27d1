package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonminaichev/perfume-checkout/internal/logger"
	orders "github.com/antonminaichev/perfume-checkout/internal/order"
	"github.com/antonminaichev/perfume-checkout/internal/paypal"
	"github.com/antonminaichev/perfume-checkout/internal/types/order"
	"go.uber.org/zap"
)

// Reconciler settles one stale order against the provider.
type Reconciler interface {
	Reconcile(ctx context.Context, o order.Order) error
}

// PollSource lists open orders untouched for at least age.
type PollSource interface {
	ListForPolling(ctx context.Context, age time.Duration, limit int) ([]order.Order, error)
}

// Reconcile brings a stale open order to where the provider says it is.
// Unbound orders past the orphan TTL are leftovers of an interrupted checkout
// and get cancelled.
func (w *Workflow) Reconcile(ctx context.Context, o order.Order) error {
	age := w.now().Sub(o.CreatedAt)
	if o.ExternalID == "" {
		if age < w.cfg.OrphanTTL {
			return nil
		}
		_, err := w.orders.CancelOrder(ctx, o.ID, CodeOrphaned, "no remote order bound after "+w.cfg.OrphanTTL.String())
		return ignoreRejected(err)
	}

	token, _, err := w.authorize(ctx)
	if err != nil {
		return err
	}
	res, err := w.gateway.GetOrder(ctx, token, o.ExternalID)
	if err != nil {
		return fmt.Errorf("get remote order %s: %w", o.ExternalID, err)
	}

	switch {
	case res.Status == paypal.CaptureCompleted:
		_, _, err = w.markCaptured(ctx, &o, captureDetails{CaptureID: res.CaptureID, Amount: res.Amount}, sourcePoll)
	case res.Status == paypal.CapturePending && res.RemoteState == paypal.OrderApproved:
		_, err = w.capture(ctx, &o, token, sourcePoll)
	case res.Status == paypal.CapturePending && res.CaptureID != "":
		_, err = w.markPending(ctx, &o, res.Reason, sourcePoll)
	case res.Status == paypal.CapturePending:
		if age < w.cfg.RemoteOrderTTL {
			return nil
		}
		_, _, err = w.markFailed(ctx, &o, CodeOrderExpired, "payer did not approve within "+w.cfg.RemoteOrderTTL.String(), sourcePoll)
	default:
		code := res.IssueCode
		if code == "" {
			code = CodePaymentFailed
		}
		_, _, err = w.markFailed(ctx, &o, code, res.Message, sourcePoll)
	}
	var denied *DeniedError
	if errors.As(err, &denied) || errors.Is(err, ErrNotPayable) {
		return nil
	}
	return err
}

func ignoreRejected(err error) error {
	if errors.Is(err, orders.ErrTransitionRejected) {
		return nil
	}
	return err
}

func workerLoop(
	ctx context.Context,
	id int,
	r Reconciler,
	jobs <-chan order.Order,
) {
	log := logger.Log.With(zap.Int("worker", id))
	log.Debug("reconcile worker started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("reconcile worker stopped")
			return

		case o, ok := <-jobs:
			if !ok {
				return
			}
			if err := r.Reconcile(ctx, o); err != nil {
				log.Warn("reconcile failed",
					zap.String("order_id", o.ID.String()),
					zap.String("external_id", o.ExternalID),
					zap.Error(err),
				)
			}
		}
	}
}

// DispatcherLoop polls for stale open orders every interval and fans them out
// to workerCount reconcile workers until ctx is done.
func DispatcherLoop(
	ctx context.Context,
	r Reconciler,
	src PollSource,
	workerCount int,
	interval time.Duration,
	age time.Duration,
) {
	jobs := make(chan order.Order, workerCount*3)

	for i := 1; i <= workerCount; i++ {
		go workerLoop(ctx, i, r, jobs)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Info("reconciler started", zap.Int("workers", workerCount), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		case <-ticker.C:
			stale, err := src.ListForPolling(ctx, age, cap(jobs))
			if err != nil {
				logger.Log.Warn("list orders for polling", zap.Error(err))
				continue
			}
			if len(stale) == 0 {
				continue
			}
			logger.Log.Debug("orders to reconcile", zap.Int("count", len(stale)))
			for _, o := range stale {
				select {
				case jobs <- o:
				default:
					logger.Log.Debug("reconcile queue full, deferring", zap.String("order_id", o.ID.String()))
				}
			}
		}
	}
}

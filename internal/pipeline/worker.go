// Package pipeline drains the work queue and drives each order through
// the validation → routing → build → submit → confirm / fail machine.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/executor"
	"github.com/nexadex/swapflow/internal/messaging"
	"github.com/nexadex/swapflow/internal/order"
	"github.com/nexadex/swapflow/internal/queue"
	"github.com/nexadex/swapflow/internal/resilience"
	"github.com/nexadex/swapflow/internal/router"
	"github.com/nexadex/swapflow/internal/stream"
	"github.com/nexadex/swapflow/internal/venue"
	"github.com/nexadex/swapflow/pkg/errors"
	"github.com/nexadex/swapflow/pkg/metrics"
)

// Worker executes one job at a time: it owns the order from pickup to
// terminal status and is the only writer of its state.
type Worker struct {
	store     order.Store
	cache     order.Cache
	router    *router.Router
	executor  *executor.Executor
	hub       *stream.Hub
	publisher messaging.Publisher
	bus       *errors.Bus
	retry     resilience.RetryPolicy
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewWorker wires a worker. publisher may be a NopPublisher; bus may be nil.
func NewWorker(
	store order.Store,
	cache order.Cache,
	rt *router.Router,
	ex *executor.Executor,
	hub *stream.Hub,
	publisher messaging.Publisher,
	bus *errors.Bus,
	retry resilience.RetryPolicy,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		store:     store,
		cache:     cache,
		router:    rt,
		executor:  ex,
		hub:       hub,
		publisher: publisher,
		bus:       bus,
		retry:     retry,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Process runs the state machine for one job. The returned error is
// non-nil only for substrate-level failures (store writes) that warrant
// queue re-delivery; business failures end in the failed status and nil.
func (w *Worker) Process(ctx context.Context, job queue.Job) error {
	start := time.Now()
	orderID, err := uuid.Parse(job.OrderID)
	if err != nil {
		// A malformed id can never succeed; drop it without re-delivery.
		w.logger.Error("discarding job with malformed order id",
			zap.String("orderId", job.OrderID), zap.Error(err))
		return nil
	}
	log := w.logger.With(zap.String("orderId", job.OrderID))

	// pending → routing
	if err := w.transition(ctx, orderID, order.StatusRouting, order.Patch{}, nil); err != nil {
		return err
	}
	log.Info("routing order",
		zap.String("tokenIn", job.TokenIn),
		zap.String("tokenOut", job.TokenOut),
		zap.Int64("amountIn", job.AmountIn))

	// Quote phase, retry-wrapped.
	var quotes []venue.Quote
	var best venue.Quote
	quoteErr := resilience.Retry(ctx, log, w.retry, w.bus, "quote", func(ctx context.Context) error {
		var innerErr error
		quotes, innerErr = w.router.GetQuotes(ctx, job.TokenIn, job.TokenOut, job.AmountIn)
		if innerErr != nil {
			return innerErr
		}
		best, innerErr = w.router.SelectBest(quotes)
		return innerErr
	})
	if quoteErr != nil {
		return w.fail(ctx, orderID, quoteErr, start)
	}

	// routing → building
	decision := routingDecision(best, quotes)
	if err := w.transition(ctx, orderID, order.StatusBuilding,
		order.Patch{ChosenVenue: &best.Venue},
		map[string]interface{}{"routingDecision": decision}); err != nil {
		return err
	}

	// Swap phase, retry-wrapped.
	var result venue.SwapResult
	slippage := job.Slippage
	swapErr := resilience.Retry(ctx, log, w.retry, w.bus, "swap", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = w.executor.ExecuteSwap(ctx, best, job.TokenIn, job.TokenOut, job.AmountIn, &slippage)
		return innerErr
	})
	if swapErr != nil {
		return w.fail(ctx, orderID, swapErr, start)
	}

	// building → submitted
	if err := w.transition(ctx, orderID, order.StatusSubmitted,
		order.Patch{TxID: &result.TxID},
		map[string]interface{}{"txHash": result.TxID}); err != nil {
		return err
	}

	// submitted → confirmed
	if err := w.transition(ctx, orderID, order.StatusConfirmed,
		order.Patch{
			ExecutedPrice: &result.ExecutedPrice,
			ExecutedIn:    &result.AmountIn,
			ExecutedOut:   &result.AmountOut,
		},
		map[string]interface{}{
			"txHash":        result.TxID,
			"executedPrice": result.ExecutedPrice.String(),
		}); err != nil {
		return err
	}

	w.finish(ctx, orderID, order.StatusConfirmed, start)
	log.Info("order confirmed",
		zap.String("venue", best.Venue),
		zap.String("txHash", result.TxID),
		zap.Int64("amountOut", result.AmountOut))
	return nil
}

// transition persists the status change, refreshes the cache snapshot and
// emits the event on the stream and the broker.
func (w *Worker) transition(ctx context.Context, orderID uuid.UUID, status string, patch order.Patch, data map[string]interface{}) error {
	if err := w.store.UpdateStatus(ctx, orderID, status, patch); err != nil {
		if w.bus != nil {
			w.bus.Publish(errors.Classify(err))
		}
		return err
	}
	if snapshot, err := w.store.FindByID(ctx, orderID); err == nil && snapshot != nil {
		if cacheErr := w.cache.Set(ctx, snapshot, w.cacheTTL); cacheErr != nil {
			w.logger.Warn("cache write failed", zap.String("orderId", orderID.String()), zap.Error(cacheErr))
		}
	}
	w.emit(ctx, orderID.String(), status, data)
	return nil
}

func (w *Worker) emit(ctx context.Context, orderID, status string, data map[string]interface{}) {
	w.hub.Emit(orderID, status, data)
	w.publisher.Publish(ctx, messaging.LifecycleEvent{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}

// fail marks the order terminally failed with the error's message. A store
// failure while doing so is returned for queue re-delivery.
func (w *Worker) fail(ctx context.Context, orderID uuid.UUID, cause error, start time.Time) error {
	classified := errors.Classify(cause)
	reason := classified.Message
	if err := w.store.UpdateStatus(ctx, orderID, order.StatusFailed, order.Patch{FailureReason: &reason}); err != nil {
		if w.bus != nil {
			w.bus.Publish(errors.Classify(err))
		}
		return err
	}
	w.emit(ctx, orderID.String(), order.StatusFailed, map[string]interface{}{"error": reason})
	w.finish(ctx, orderID, order.StatusFailed, start)
	w.logger.Warn("order failed",
		zap.String("orderId", orderID.String()),
		zap.String("kind", string(classified.Kind)),
		zap.String("reason", reason))
	return nil
}

// finish clears the cache entry, releases the subscribers and records
// terminal metrics.
func (w *Worker) finish(ctx context.Context, orderID uuid.UUID, status string, start time.Time) {
	if err := w.cache.Delete(ctx, orderID); err != nil {
		w.logger.Warn("cache delete failed", zap.String("orderId", orderID.String()), zap.Error(err))
	}
	w.hub.DetachAll(orderID.String())
	metrics.OrdersByStatus.WithLabelValues(status).Inc()
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
}

// routingDecision shapes the building emission payload: the winner plus
// both venues' effective prices in the fixed venue order.
func routingDecision(best venue.Quote, quotes []venue.Quote) map[string]interface{} {
	decision := map[string]interface{}{"selectedVenue": best.Venue}
	for _, q := range quotes {
		switch q.Venue {
		case venue.Raydium:
			decision["venueAPrice"] = q.EffectivePrice.String()
		case venue.Orca:
			decision["venueBPrice"] = q.EffectivePrice.String()
		}
	}
	return decision
}

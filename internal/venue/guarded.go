package venue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/resilience"
	"github.com/nexadex/swapflow/pkg/metrics"
)

// GuardedAdapter wraps an Adapter with its own circuit breaker and latency
// metrics. One breaker per venue: a dead venue fails fast without dragging
// its peer down.
type GuardedAdapter struct {
	inner   Adapter
	breaker *resilience.Breaker
}

// NewGuardedAdapter wraps inner with a breaker named after the venue.
func NewGuardedAdapter(inner Adapter, cfg resilience.BreakerConfig, logger *zap.Logger) *GuardedAdapter {
	return &GuardedAdapter{
		inner:   inner,
		breaker: resilience.NewBreaker(inner.Name(), cfg, logger),
	}
}

func (g *GuardedAdapter) Name() string { return g.inner.Name() }

// Breaker exposes the breaker for observability.
func (g *GuardedAdapter) Breaker() *resilience.Breaker { return g.breaker }

func (g *GuardedAdapter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	var quote Quote
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		quote, innerErr = g.inner.Quote(ctx, req)
		return innerErr
	})
	metrics.VenueCallLatency.WithLabelValues(g.inner.Name(), "quote").Observe(time.Since(start).Seconds())
	return quote, err
}

func (g *GuardedAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	var result SwapResult
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = g.inner.Swap(ctx, params)
		return innerErr
	})
	metrics.VenueCallLatency.WithLabelValues(g.inner.Name(), "swap").Observe(time.Since(start).Seconds())
	return result, err
}

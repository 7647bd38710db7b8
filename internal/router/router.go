// Package router fans quote requests out to the venues and picks the
// winner by effective price.
package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/venue"
	"github.com/nexadex/swapflow/pkg/errors"
)

// Router queries every venue concurrently and tolerates partial outage.
type Router struct {
	venues       []venue.Adapter
	quoteTimeout time.Duration
	logger       *zap.Logger
}

// New creates a Router over the given venues. The slice order is the fixed
// tie-break order.
func New(venues []venue.Adapter, quoteTimeout time.Duration, logger *zap.Logger) *Router {
	return &Router{venues: venues, quoteTimeout: quoteTimeout, logger: logger}
}

// rewriteNative substitutes the sentinel native-token identifier with the
// wrapped mint the venues understand.
func rewriteNative(token string) string {
	if token == venue.NativeToken {
		return venue.WrappedSOLMint
	}
	return token
}

// GetQuotes asks every venue for a quote concurrently, each call bounded
// by the quote timeout. Failed or timed-out venues are dropped with a
// warning; a ROUTING error is returned only when every venue failed.
func (r *Router) GetQuotes(ctx context.Context, tokenIn, tokenOut string, amountIn int64) ([]venue.Quote, error) {
	req := venue.QuoteRequest{
		TokenIn:  rewriteNative(tokenIn),
		TokenOut: rewriteNative(tokenOut),
		AmountIn: amountIn,
	}

	type outcome struct {
		quote venue.Quote
		err   error
	}
	outcomes := make([]outcome, len(r.venues))

	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v venue.Adapter) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
			defer cancel()
			quote, err := v.Quote(callCtx, req)
			outcomes[i] = outcome{quote: quote, err: err}
		}(i, v)
	}
	wg.Wait()

	quotes := make([]venue.Quote, 0, len(r.venues))
	for i, out := range outcomes {
		if out.err != nil {
			r.logger.Warn("dropping venue from comparison",
				zap.String("venue", r.venues[i].Name()),
				zap.Error(out.err))
			continue
		}
		quotes = append(quotes, out.quote)
	}
	if len(quotes) == 0 {
		return nil, errors.NewRouting("quote acquisition failed: all venues failed or timed out").
			WithContext("tokenIn", req.TokenIn).
			WithContext("tokenOut", req.TokenOut)
	}
	return quotes, nil
}

// SelectBest returns the quote with the strictly greatest effective price.
// Ties keep the earlier venue in the fixed order. The full comparison is
// logged at every decision.
func (r *Router) SelectBest(quotes []venue.Quote) (venue.Quote, error) {
	if len(quotes) == 0 {
		return venue.Quote{}, errors.NewRouting("routing decision impossible: no quotes to compare")
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EffectivePrice.GreaterThan(best.EffectivePrice) {
			best = q
		}
	}

	fields := []zap.Field{zap.String("winner", best.Venue)}
	for _, q := range quotes {
		fields = append(fields,
			zap.String(q.Venue+"_raw_price", q.RawPrice.String()),
			zap.String(q.Venue+"_fee", q.Fee.String()),
			zap.String(q.Venue+"_effective_price", q.EffectivePrice.String()),
			zap.Int64(q.Venue+"_estimated_output", q.EstimatedOutput),
		)
		if q.Venue != best.Venue {
			fields = append(fields,
				zap.String("difference_vs_"+q.Venue, best.EffectivePrice.Sub(q.EffectivePrice).String()))
		}
	}
	r.logger.Info("routing decision", fields...)

	return best, nil
}

// Package executor turns a winning quote into a slippage-bounded swap on
// the quoted venue.
package executor

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/venue"
	"github.com/nexadex/swapflow/pkg/errors"
)

// Executor dispatches swaps to the adapter matching the chosen quote.
type Executor struct {
	venues          map[string]venue.Adapter
	defaultSlippage float64
	maxSlippage     float64
	logger          *zap.Logger
}

// New creates an Executor over the given venues.
func New(venues []venue.Adapter, defaultSlippage, maxSlippage float64, logger *zap.Logger) *Executor {
	byName := make(map[string]venue.Adapter, len(venues))
	for _, v := range venues {
		byName[v.Name()] = v
	}
	return &Executor{
		venues:          byName,
		defaultSlippage: defaultSlippage,
		maxSlippage:     maxSlippage,
		logger:          logger,
	}
}

// MinAmountOut computes floor(estimatedOutput * (1 - slippage)). Flooring
// forbids fractional smallest-unit tokens.
func MinAmountOut(estimatedOutput int64, slippage float64) int64 {
	one := decimal.NewFromInt(1)
	return decimal.NewFromInt(estimatedOutput).
		Mul(one.Sub(decimal.NewFromFloat(slippage))).
		Floor().
		IntPart()
}

// ExecuteSwap swaps amountIn of tokenIn for tokenOut on the quoted venue,
// rejecting any fill below the slippage floor. A nil slippage means the
// configured default.
func (e *Executor) ExecuteSwap(ctx context.Context, quote venue.Quote, tokenIn, tokenOut string, amountIn int64, slippage *float64) (venue.SwapResult, error) {
	tolerance := e.defaultSlippage
	if slippage != nil {
		tolerance = *slippage
	}
	if tolerance < 0 || tolerance > e.maxSlippage {
		return venue.SwapResult{}, errors.NewValidation(
			"slippage %v outside [0, %v]", tolerance, e.maxSlippage)
	}

	adapter, ok := e.venues[quote.Venue]
	if !ok {
		return venue.SwapResult{}, errors.NewExecution("no adapter for venue %s", quote.Venue).NonRetryable()
	}

	minAmountOut := MinAmountOut(quote.EstimatedOutput, tolerance)
	params := venue.SwapParams{
		Venue:        quote.Venue,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minAmountOut,
		PoolID:       quote.PoolID,
	}

	result, err := adapter.Swap(ctx, params)
	if err != nil {
		if isSlippageBreach(err) {
			return venue.SwapResult{}, errors.NewExecution(
				"slippage exceeded on %s: %s", quote.Venue, errMessage(err)).
				WithCause(err).
				WithContext("venue", quote.Venue).
				WithContext("minAmountOut", minAmountOut)
		}
		return venue.SwapResult{}, err
	}

	realized := realizedSlippage(quote.EstimatedOutput, result.AmountOut)
	e.logger.Info("swap executed",
		zap.String("venue", quote.Venue),
		zap.String("txHash", result.TxID),
		zap.Int64("estimated_output", quote.EstimatedOutput),
		zap.Int64("realized_output", result.AmountOut),
		zap.String("realized_slippage", realized.String()),
	)
	return result, nil
}

// isSlippageBreach recognizes the venue's slippage-exceeded signal by the
// substring "slippage" in a classified error's message or in the error
// text. The error kind is not inspected.
func isSlippageBreach(err error) bool {
	if e, ok := errors.As(err); ok {
		if strings.Contains(strings.ToLower(e.Message), "slippage") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "slippage")
}

func errMessage(err error) string {
	if e, ok := errors.As(err); ok {
		return e.Message
	}
	return err.Error()
}

// realizedSlippage is (estimated - realized) / estimated.
func realizedSlippage(estimated, realized int64) decimal.Decimal {
	if estimated == 0 {
		return decimal.Zero
	}
	est := decimal.NewFromInt(estimated)
	return est.Sub(decimal.NewFromInt(realized)).Div(est)
}

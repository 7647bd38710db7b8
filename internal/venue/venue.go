// Package venue defines the liquidity-source adapter contract and the
// adapters that implement it.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Venue tags. The fixed comparison order (Raydium first) makes selection
// tie-breaks deterministic.
const (
	Raydium = "raydium"
	Orca    = "orca"
)

// Names lists all venue tags in the fixed configured order.
var Names = []string{Raydium, Orca}

// NativeToken is the sentinel identifier callers may use for unwrapped SOL.
const NativeToken = "SOL"

// WrappedSOLMint is the canonical wrapped-SOL mint address.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// QuoteRequest asks a venue how much TokenOut a given amount of TokenIn buys.
type QuoteRequest struct {
	TokenIn  string
	TokenOut string
	AmountIn int64
}

// Quote is a venue's answer to a QuoteRequest.
type Quote struct {
	Venue           string
	RawPrice        decimal.Decimal // output per input, before fees
	Fee             decimal.Decimal // proportional, e.g. 0.0025
	EffectivePrice  decimal.Decimal // RawPrice * (1 - Fee)
	EstimatedOutput int64           // AmountIn * RawPrice, floored
	PoolID          string
}

// NewQuote derives the effective price and estimated output from the raw
// price and fee.
func NewQuote(venueName string, rawPrice, fee decimal.Decimal, amountIn int64, poolID string) Quote {
	one := decimal.NewFromInt(1)
	return Quote{
		Venue:           venueName,
		RawPrice:        rawPrice,
		Fee:             fee,
		EffectivePrice:  rawPrice.Mul(one.Sub(fee)),
		EstimatedOutput: decimal.NewFromInt(amountIn).Mul(rawPrice).Floor().IntPart(),
		PoolID:          poolID,
	}
}

// SwapParams carries everything a venue needs to execute a swap under a
// minimum-output floor.
type SwapParams struct {
	Venue        string
	TokenIn      string
	TokenOut     string
	AmountIn     int64
	MinAmountOut int64
	PoolID       string
}

// SwapResult reports an executed swap. AmountOut is >= MinAmountOut.
type SwapResult struct {
	TxID          string
	ExecutedPrice decimal.Decimal
	AmountIn      int64
	AmountOut     int64
	FeeAmount     int64
	Timestamp     time.Time
}

// Adapter is the venue capability surface: price discovery and execution.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Swap(ctx context.Context, params SwapParams) (SwapResult, error)
}

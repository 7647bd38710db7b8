package venue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/resilience"
	"github.com/nexadex/swapflow/pkg/errors"
)

func TestNewQuoteDerivations(t *testing.T) {
	q := NewQuote(Orca, decimal.NewFromFloat(1.01), decimal.NewFromFloat(0.002), 1_000_000, "pool-1")
	assert.Equal(t, Orca, q.Venue)
	assert.True(t, q.EffectivePrice.Equal(decimal.NewFromFloat(1.00798)), "got %s", q.EffectivePrice)
	assert.Equal(t, int64(1_010_000), q.EstimatedOutput)
}

func TestNewQuoteFloorsEstimatedOutput(t *testing.T) {
	// 3 * 0.333 = 0.999 floors to 0
	q := NewQuote(Raydium, decimal.NewFromFloat(0.333), decimal.Zero, 3, "p")
	assert.Equal(t, int64(0), q.EstimatedOutput)
}

func TestMockSwapFillsAtQuotedPrice(t *testing.T) {
	m := NewMockAdapter(Raydium, decimal.NewFromFloat(1.00), decimal.NewFromFloat(0.0025))
	res, err := m.Swap(context.Background(), SwapParams{
		Venue: Raydium, TokenIn: "A", TokenOut: "B",
		AmountIn: 1_000_000, MinAmountOut: 990_000, PoolID: "p",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), res.AmountOut)
	assert.NotEmpty(t, res.TxID)
	assert.False(t, res.Timestamp.IsZero())
}

func TestMockSwapSlippageBreach(t *testing.T) {
	m := NewMockAdapter(Orca, decimal.NewFromFloat(1.01), decimal.NewFromFloat(0.002))
	m.SetSwapOutput(999_000)
	_, err := m.Swap(context.Background(), SwapParams{
		Venue: Orca, TokenIn: "A", TokenOut: "B",
		AmountIn: 1_000_000, MinAmountOut: 999_900, PoolID: "p",
	})
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindExecution, e.Kind)
	assert.Contains(t, e.Message, "slippage")
	assert.Contains(t, e.Message, Orca)
}

func TestValidateMint(t *testing.T) {
	assert.NoError(t, validateMint(WrappedSOLMint))
	assert.Error(t, validateMint("not-a-mint!"))
	assert.Error(t, validateMint("abc")) // valid base58, wrong length
}

func TestGuardedAdapterOpensBreaker(t *testing.T) {
	m := NewMockAdapter(Raydium, decimal.NewFromInt(1), decimal.Zero)
	m.FailQuotes(errors.NewRouting("quote upstream down"))
	g := NewGuardedAdapter(m, resilience.BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: 2 * time.Minute,
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := g.Quote(ctx, QuoteRequest{TokenIn: "A", TokenOut: "B", AmountIn: 1})
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, g.Breaker().State())

	// Breaker now fails fast: the underlying adapter is never reached even
	// though it would succeed.
	m.FailQuotes(nil)
	_, err := g.Quote(ctx, QuoteRequest{TokenIn: "A", TokenOut: "B", AmountIn: 1})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSystem))
	assert.False(t, errors.IsRetryable(err))
}

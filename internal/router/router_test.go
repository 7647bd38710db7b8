package router

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/venue"
	"github.com/nexadex/swapflow/pkg/errors"
)

func twoVenues() (*venue.MockAdapter, *venue.MockAdapter) {
	raydium := venue.NewMockAdapter(venue.Raydium, decimal.NewFromFloat(1.00), decimal.NewFromFloat(0.0025))
	orca := venue.NewMockAdapter(venue.Orca, decimal.NewFromFloat(1.01), decimal.NewFromFloat(0.002))
	return raydium, orca
}

func TestGetQuotesBothVenues(t *testing.T) {
	raydium, orca := twoVenues()
	r := New([]venue.Adapter{raydium, orca}, 5*time.Second, zap.NewNop())

	quotes, err := r.GetQuotes(context.Background(), "A", "B", 1_000_000)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, venue.Raydium, quotes[0].Venue)
	assert.Equal(t, venue.Orca, quotes[1].Venue)
	assert.Equal(t, int64(1_000_000), quotes[0].EstimatedOutput)
	assert.Equal(t, int64(1_010_000), quotes[1].EstimatedOutput)
}

func TestGetQuotesDropsFailedVenue(t *testing.T) {
	raydium, orca := twoVenues()
	raydium.FailQuotes(errors.NewRouting("quote upstream down"))
	r := New([]venue.Adapter{raydium, orca}, 5*time.Second, zap.NewNop())

	quotes, err := r.GetQuotes(context.Background(), "A", "B", 1_000_000)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, venue.Orca, quotes[0].Venue)
}

func TestGetQuotesDropsTimedOutVenue(t *testing.T) {
	raydium, orca := twoVenues()
	raydium.SetLatency(200 * time.Millisecond)
	r := New([]venue.Adapter{raydium, orca}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	quotes, err := r.GetQuotes(context.Background(), "A", "B", 1_000_000)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, venue.Orca, quotes[0].Venue)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "timed-out venue must not block the fan-out")
}

func TestGetQuotesAllVenuesDown(t *testing.T) {
	raydium, orca := twoVenues()
	raydium.FailQuotes(errors.NewRouting("quote upstream down"))
	orca.FailQuotes(errors.NewRouting("quote upstream down"))
	r := New([]venue.Adapter{raydium, orca}, time.Second, zap.NewNop())

	_, err := r.GetQuotes(context.Background(), "A", "B", 1)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRouting))
}

func TestGetQuotesRewritesNativeToken(t *testing.T) {
	raydium, _ := twoVenues()
	r := New([]venue.Adapter{raydium}, time.Second, zap.NewNop())

	quotes, err := r.GetQuotes(context.Background(), venue.NativeToken, "B", 10)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	// The mock embeds the request tokens in the pool id.
	assert.Contains(t, quotes[0].PoolID, venue.WrappedSOLMint)
}

func TestSelectBestPicksGreatestEffectivePrice(t *testing.T) {
	r := New(nil, time.Second, zap.NewNop())
	quotes := []venue.Quote{
		venue.NewQuote(venue.Raydium, decimal.NewFromFloat(1.00), decimal.NewFromFloat(0.0025), 1_000_000, "p1"),
		venue.NewQuote(venue.Orca, decimal.NewFromFloat(1.01), decimal.NewFromFloat(0.002), 1_000_000, "p2"),
	}
	best, err := r.SelectBest(quotes)
	require.NoError(t, err)
	assert.Equal(t, venue.Orca, best.Venue)
}

func TestSelectBestTieKeepsFixedOrder(t *testing.T) {
	r := New(nil, time.Second, zap.NewNop())
	quotes := []venue.Quote{
		venue.NewQuote(venue.Raydium, decimal.NewFromFloat(1.00), decimal.Zero, 100, "p1"),
		venue.NewQuote(venue.Orca, decimal.NewFromFloat(1.00), decimal.Zero, 100, "p2"),
	}
	best, err := r.SelectBest(quotes)
	require.NoError(t, err)
	assert.Equal(t, venue.Raydium, best.Venue)
}

func TestSelectBestEmpty(t *testing.T) {
	r := New(nil, time.Second, zap.NewNop())
	_, err := r.SelectBest(nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRouting))
}

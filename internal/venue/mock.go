package venue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexadex/swapflow/pkg/errors"
)

// MockAdapter simulates a venue with a scripted price, fee and latency.
// Tests and the default configuration run against it.
type MockAdapter struct {
	name    string
	price   decimal.Decimal
	fee     decimal.Decimal
	latency time.Duration

	mu        sync.Mutex
	quoteErr  error
	swapErr   error
	// swapOutput overrides the realized output of every swap while set;
	// used to simulate slippage shortfalls.
	swapOutput *int64
}

// NewMockAdapter creates a mock venue quoting the given price and fee.
func NewMockAdapter(name string, price, fee decimal.Decimal) *MockAdapter {
	return &MockAdapter{name: name, price: price, fee: fee}
}

func (m *MockAdapter) Name() string { return m.name }

// SetLatency makes every call sleep for d before answering.
func (m *MockAdapter) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailQuotes makes Quote return err until cleared with nil.
func (m *MockAdapter) FailQuotes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteErr = err
}

// FailSwaps makes Swap return err until cleared with nil.
func (m *MockAdapter) FailSwaps(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swapErr = err
}

// SetSwapOutput pins the realized output of subsequent swaps.
func (m *MockAdapter) SetSwapOutput(amountOut int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swapOutput = &amountOut
}

// SetPrice updates the quoted raw price.
func (m *MockAdapter) SetPrice(price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
}

func (m *MockAdapter) sleep(ctx context.Context) error {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Quote answers with the scripted price and fee.
func (m *MockAdapter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := m.sleep(ctx); err != nil {
		return Quote{}, errors.NewRouting("quote from %s aborted: %s", m.name, err).WithCause(err)
	}
	m.mu.Lock()
	quoteErr := m.quoteErr
	price, fee := m.price, m.fee
	m.mu.Unlock()
	if quoteErr != nil {
		return Quote{}, quoteErr
	}
	return NewQuote(m.name, price, fee, req.AmountIn, m.name+"-pool-"+req.TokenIn+"-"+req.TokenOut), nil
}

// Swap fills at the quoted price unless an override or failure is scripted.
// Outputs below the caller's floor fail with a slippage EXECUTION error, as
// the live venues do.
func (m *MockAdapter) Swap(ctx context.Context, params SwapParams) (SwapResult, error) {
	if err := m.sleep(ctx); err != nil {
		return SwapResult{}, errors.NewExecution("swap on %s aborted: %s", m.name, err).WithCause(err)
	}
	m.mu.Lock()
	swapErr := m.swapErr
	price := m.price
	override := m.swapOutput
	m.mu.Unlock()
	if swapErr != nil {
		return SwapResult{}, swapErr
	}

	amountOut := decimal.NewFromInt(params.AmountIn).Mul(price).Floor().IntPart()
	if override != nil {
		amountOut = *override
	}
	if amountOut < params.MinAmountOut {
		return SwapResult{}, errors.NewExecution(
			"slippage exceeded on %s: output %d below minimum %d",
			m.name, amountOut, params.MinAmountOut)
	}

	executed := decimal.NewFromInt(amountOut).Div(decimal.NewFromInt(params.AmountIn))
	feeAmount := decimal.NewFromInt(amountOut).Mul(m.fee).Floor().IntPart()
	return SwapResult{
		TxID:          uuid.New().String(),
		ExecutedPrice: executed,
		AmountIn:      params.AmountIn,
		AmountOut:     amountOut,
		FeeAmount:     feeAmount,
		Timestamp:     time.Now(),
	}, nil
}

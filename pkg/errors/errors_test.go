package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBySubstring(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{"validation keyword", errors.New("field amount is invalid"), KindValidation, false},
		{"required keyword", errors.New("signing key required"), KindValidation, false},
		{"quote keyword", errors.New("quote fetch timed out"), KindRouting, true},
		{"routing keyword", errors.New("routing table empty"), KindRouting, true},
		{"slippage keyword", errors.New("slippage tolerance exceeded"), KindExecution, true},
		{"swap keyword", errors.New("swap reverted"), KindExecution, true},
		{"transaction keyword", errors.New("transaction dropped"), KindExecution, true},
		{"unknown", errors.New("connection reset by peer"), KindSystem, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.err)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := NewExecution("slippage exceeded on %s", "orca")
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestValidationNeverRetryable(t *testing.T) {
	e := NewValidation("amount must be greater than 0")
	assert.False(t, e.Retryable)
	assert.False(t, IsRetryable(e))
}

func TestSystemNonRetryableOverride(t *testing.T) {
	e := NewSystem("circuit breaker OPEN for %s", "raydium").NonRetryable()
	assert.Equal(t, KindSystem, e.Kind)
	assert.False(t, IsRetryable(e))
}

func TestWithContext(t *testing.T) {
	e := NewRouting("all venues failed").WithContext("venues", []string{"raydium", "orca"})
	require.NotNil(t, e.Context)
	assert.Contains(t, e.Context, "venues")
	assert.False(t, e.Timestamp.IsZero())
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	e := NewSystem("redis down")
	bus.Publish(e)

	got := <-ch
	assert.Same(t, e, got)
}

func TestBusDropsWhenSubscriberLags(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	for i := 0; i < 200; i++ {
		bus.Publish(NewSystem("overflow %d", i))
	}
	// Buffer is bounded; publishing above never blocked.
	assert.Equal(t, 64, len(ch))
}

func TestBusCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	_, open := <-ch
	assert.False(t, open)
	// Publish after close is a no-op.
	bus.Publish(NewSystem("late"))
}

package order

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexadex/swapflow/pkg/errors"
)

func fptr(f float64) *float64 { return &f }

func TestValidateSubmission(t *testing.T) {
	const maxSlippage = 0.5

	tests := []struct {
		name    string
		req     Submission
		wantMsg string
	}{
		{"valid", Submission{TokenIn: "A", TokenOut: "B", Amount: 100}, ""},
		{"valid with slippage", Submission{TokenIn: "A", TokenOut: "B", Amount: 100, Slippage: fptr(0.01)}, ""},
		{"zero slippage allowed", Submission{TokenIn: "A", TokenOut: "B", Amount: 100, Slippage: fptr(0)}, ""},
		{"empty tokenIn", Submission{TokenOut: "B", Amount: 100}, "tokenIn must be a non-empty string"},
		{"empty tokenOut", Submission{TokenIn: "A", Amount: 100}, "tokenOut must be a non-empty string"},
		{"same tokens", Submission{TokenIn: "A", TokenOut: "A", Amount: 100}, "tokenIn and tokenOut must be different"},
		{"zero amount", Submission{TokenIn: "A", TokenOut: "B", Amount: 0}, "amount must be greater than 0"},
		{"negative amount", Submission{TokenIn: "A", TokenOut: "B", Amount: -5}, "amount must be greater than 0"},
		{"nan amount", Submission{TokenIn: "A", TokenOut: "B", Amount: math.NaN()}, "amount must be a finite number"},
		{"inf amount", Submission{TokenIn: "A", TokenOut: "B", Amount: math.Inf(1)}, "amount must be a finite number"},
		{"negative slippage", Submission{TokenIn: "A", TokenOut: "B", Amount: 100, Slippage: fptr(-0.1)}, "slippage must be greater than or equal to 0"},
		{"excessive slippage", Submission{TokenIn: "A", TokenOut: "B", Amount: 100, Slippage: fptr(0.6)}, "slippage must not exceed 0.5"},
		{"nan slippage", Submission{TokenIn: "A", TokenOut: "B", Amount: 100, Slippage: fptr(math.NaN())}, "slippage must be a finite number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(tt.req, maxSlippage)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			e, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.KindValidation, e.Kind)
			assert.False(t, e.Retryable)
			assert.Equal(t, tt.wantMsg, e.Message)
		})
	}
}

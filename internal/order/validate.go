package order

import (
	"math"

	"github.com/nexadex/swapflow/pkg/errors"
)

// Submission is the caller-supplied swap request before an order exists.
// Slippage is nil when the caller leaves it to the configured default.
type Submission struct {
	TokenIn  string   `json:"tokenIn"`
	TokenOut string   `json:"tokenOut"`
	Amount   float64  `json:"amount"`
	Slippage *float64 `json:"slippage,omitempty"`
}

// ValidateSubmission checks every rule with its own message and returns a
// VALIDATION error on the first violation. Pure; no side effects.
func ValidateSubmission(req Submission, maxSlippage float64) error {
	if req.TokenIn == "" {
		return errors.NewValidation("tokenIn must be a non-empty string")
	}
	if req.TokenOut == "" {
		return errors.NewValidation("tokenOut must be a non-empty string")
	}
	if req.TokenIn == req.TokenOut {
		return errors.NewValidation("tokenIn and tokenOut must be different")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return errors.NewValidation("amount must be a finite number")
	}
	if req.Amount <= 0 {
		return errors.NewValidation("amount must be greater than 0")
	}
	if req.Slippage != nil {
		s := *req.Slippage
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return errors.NewValidation("slippage must be a finite number")
		}
		if s < 0 {
			return errors.NewValidation("slippage must be greater than or equal to 0")
		}
		if s > maxSlippage {
			return errors.NewValidation("slippage must not exceed %v", maxSlippage)
		}
	}
	return nil
}

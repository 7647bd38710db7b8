// Package order holds the order model, its state machine, and the durable
// store and cache views over it.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. The pipeline walks pending → routing → building →
// submitted → confirmed, with failed reachable from any non-terminal state.
const (
	StatusPending   = "pending"
	StatusRouting   = "routing"
	StatusBuilding  = "building"
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Order is the durable record of one swap request.
type Order struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TokenIn       string           `gorm:"not null" json:"tokenIn"`
	TokenOut      string           `gorm:"not null" json:"tokenOut"`
	AmountIn      int64            `gorm:"not null" json:"amountIn"`
	Slippage      float64          `gorm:"not null" json:"slippage"`
	Status        string           `gorm:"index;not null" json:"status"`
	ChosenVenue   *string          `json:"chosenVenue,omitempty"`
	TxID          *string          `gorm:"index" json:"txHash,omitempty"`
	ExecutedPrice *decimal.Decimal `gorm:"type:decimal(30,12)" json:"executedPrice,omitempty"`
	ExecutedIn    *int64           `json:"executedAmountIn,omitempty"`
	ExecutedOut   *int64           `json:"executedAmountOut,omitempty"`
	FailureReason *string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time        `gorm:"index:idx_orders_created_at,sort:desc" json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ConfirmedAt   *time.Time       `json:"confirmedAt,omitempty"`
}

// TableName pins the schema table name.
func (Order) TableName() string { return "orders" }

// StatusHistory is the append-only log of one order's transitions.
type StatusHistory struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;index;not null" json:"orderId"`
	Status    string    `gorm:"not null" json:"status"`
	Timestamp time.Time `gorm:"index:idx_history_timestamp,sort:desc;not null" json:"timestamp"`
	Metadata  []byte    `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName pins the schema table name.
func (StatusHistory) TableName() string { return "order_status_history" }

var transitions = map[string][]string{
	StatusPending:   {StatusRouting, StatusFailed},
	StatusRouting:   {StatusBuilding, StatusFailed},
	StatusBuilding:  {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusConfirmed, StatusFailed},
	StatusConfirmed: {},
	StatusFailed:    {},
}

// ValidTransition reports whether the state machine permits from → to.
func ValidTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status ends the order's lifecycle.
func IsTerminal(status string) bool {
	return status == StatusConfirmed || status == StatusFailed
}

// Patch carries the field subset a status transition writes alongside the
// new status. Nil members are left untouched.
type Patch struct {
	ChosenVenue   *string
	TxID          *string
	ExecutedPrice *decimal.Decimal
	ExecutedIn    *int64
	ExecutedOut   *int64
	FailureReason *string
}

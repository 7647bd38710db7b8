package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nexadex/swapflow/pkg/errors"
)

// Store is the durable order record and its status-history log.
type Store interface {
	Create(ctx context.Context, o *Order) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string, patch Patch) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	FindRecent(ctx context.Context, limit int) ([]*Order, error)
	GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error)
}

// GormStore implements Store on a gorm-managed relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the orders and order_status_history tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Order{}, &StatusHistory{})
}

// Create assigns a fresh id when absent, stamps timestamps, persists the
// order in pending and appends the first history entry atomically.
func (s *GormStore) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		return tx.Create(&StatusHistory{
			OrderID:   o.ID,
			Status:    StatusPending,
			Timestamp: now,
		}).Error
	})
	if err != nil {
		return errors.NewSystem("storage: creating order: %s", err).WithCause(err).WithContext("orderId", o.ID.String())
	}
	return nil
}

// UpdateStatus applies the new status plus the patch fields and appends a
// history entry in one transaction. ConfirmedAt is set iff the new status
// is confirmed. The worker is the sole writer, so illegal transitions are
// not rejected here.
func (s *GormStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string, patch Patch) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": now,
	}
	if patch.ChosenVenue != nil {
		updates["chosen_venue"] = *patch.ChosenVenue
	}
	if patch.TxID != nil {
		updates["tx_id"] = *patch.TxID
	}
	if patch.ExecutedPrice != nil {
		updates["executed_price"] = *patch.ExecutedPrice
	}
	if patch.ExecutedIn != nil {
		updates["executed_in"] = *patch.ExecutedIn
	}
	if patch.ExecutedOut != nil {
		updates["executed_out"] = *patch.ExecutedOut
	}
	if patch.FailureReason != nil {
		updates["failure_reason"] = *patch.FailureReason
	}
	if newStatus == StatusConfirmed {
		updates["confirmed_at"] = now
	}

	metadata, _ := json.Marshal(patch.historyMetadata())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Order{}).Where("id = ?", orderID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&StatusHistory{
			OrderID:   orderID,
			Status:    newStatus,
			Timestamp: now,
			Metadata:  metadata,
		}).Error
	})
	if err != nil {
		return errors.NewSystem("storage: updating order status: %s", err).
			WithCause(err).
			WithContext("orderId", orderID.String()).
			WithContext("status", newStatus)
	}
	return nil
}

// historyMetadata projects the patch onto the history entry payload.
func (p Patch) historyMetadata() map[string]interface{} {
	m := make(map[string]interface{})
	if p.ChosenVenue != nil {
		m["venue"] = *p.ChosenVenue
	}
	if p.TxID != nil {
		m["txHash"] = *p.TxID
	}
	if p.ExecutedPrice != nil {
		m["executedPrice"] = p.ExecutedPrice.String()
	}
	if p.FailureReason != nil {
		m["error"] = *p.FailureReason
	}
	return m
}

// FindByID returns the order or nil when unknown.
func (s *GormStore) FindByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", orderID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewSystem("storage: loading order: %s", err).WithCause(err)
	}
	return &o, nil
}

// FindRecent returns up to limit orders, newest first.
func (s *GormStore) FindRecent(ctx context.Context, limit int) ([]*Order, error) {
	var out []*Order
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.NewSystem("storage: listing orders: %s", err).WithCause(err)
	}
	return out, nil
}

// GetStatusHistory returns the order's transitions oldest first.
func (s *GormStore) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	var out []*StatusHistory
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("timestamp ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, errors.NewSystem("storage: loading status history: %s", err).WithCause(err)
	}
	return out, nil
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/nexadex/swapflow/pkg/metrics"
)

// Key layout:
//
//	job:<orderID>                 -> Job JSON (the record of truth)
//	ready:<enqueueNanos>:<orderID> -> empty (FIFO index over waiting jobs)
//	failed:<orderID>              -> Job JSON (terminal failures, retained)
const (
	jobPrefix    = "job:"
	readyPrefix  = "ready:"
	failedPrefix = "failed:"
)

// BadgerQueue is the disk-backed Queue. Leases live in memory: a crash
// releases them and at-least-once delivery re-runs the job on restart.
type BadgerQueue struct {
	db     *badger.DB
	policy BackoffPolicy
	logger *zap.Logger

	mu        sync.Mutex
	leased    map[string]struct{}
	paused    bool
	completed int
}

// NewBadgerQueue opens (or creates) the queue at path.
func NewBadgerQueue(path string, policy BackoffPolicy, logger *zap.Logger) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger queue: %w", err)
	}
	return &BadgerQueue{
		db:     db,
		policy: policy,
		logger: logger,
		leased: make(map[string]struct{}),
	}, nil
}

func jobKey(orderID string) []byte    { return []byte(jobPrefix + orderID) }
func failedKey(orderID string) []byte { return []byte(failedPrefix + orderID) }

func readyKey(job Job) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", readyPrefix, job.EnqueuedAt.UnixNano(), job.OrderID))
}

// Enqueue persists the job unless the order id is already queued.
func (q *BadgerQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	val, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	var duplicate bool
	err = q.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(job.OrderID)); err == nil {
			duplicate = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(jobKey(job.OrderID), val); err != nil {
			return err
		}
		return txn.Set(readyKey(job), nil)
	})
	if err != nil {
		return fmt.Errorf("enqueuing job %s: %w", job.OrderID, err)
	}
	if duplicate {
		q.logger.Debug("duplicate enqueue ignored", zap.String("orderId", job.OrderID))
	}
	return nil
}

// Dequeue leases the oldest ready job whose backoff delay has passed.
func (q *BadgerQueue) Dequeue(ctx context.Context) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return Job{}, ErrPaused
	}

	var job Job
	found := false
	now := time.Now()
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(readyPrefix)); it.ValidForPrefix([]byte(readyPrefix)); it.Next() {
			orderID := orderIDFromReadyKey(it.Item().Key())
			if _, held := q.leased[orderID]; held {
				continue
			}
			item, err := txn.Get(jobKey(orderID))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var candidate Job
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &candidate) }); err != nil {
				return err
			}
			if candidate.NotBefore.After(now) {
				continue
			}
			job = candidate
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return Job{}, fmt.Errorf("scanning queue: %w", err)
	}
	if !found {
		return Job{}, ErrEmpty
	}

	q.leased[job.OrderID] = struct{}{}
	metrics.QueueActive.Set(float64(len(q.leased)))
	return job, nil
}

func orderIDFromReadyKey(key []byte) string {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// Complete removes the leased job for good.
func (q *BadgerQueue) Complete(ctx context.Context, orderID string) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		job, err := q.loadJob(txn, orderID)
		if err != nil {
			return err
		}
		if err := txn.Delete(readyKey(job)); err != nil {
			return err
		}
		return txn.Delete(jobKey(orderID))
	})
	if err != nil {
		return fmt.Errorf("completing job %s: %w", orderID, err)
	}
	q.mu.Lock()
	delete(q.leased, orderID)
	q.completed++
	metrics.QueueActive.Set(float64(len(q.leased)))
	q.mu.Unlock()
	return nil
}

// Fail releases the lease. While attempts remain the job is re-scheduled
// with the backoff delay; otherwise it moves to the failed set.
func (q *BadgerQueue) Fail(ctx context.Context, orderID string) (Job, bool, error) {
	var updated Job
	var redeliver bool
	err := q.db.Update(func(txn *badger.Txn) error {
		job, err := q.loadJob(txn, orderID)
		if err != nil {
			return err
		}
		job.Attempts++
		updated = job
		if job.Attempts >= q.policy.MaxAttempts {
			redeliver = false
			if err := txn.Delete(readyKey(job)); err != nil {
				return err
			}
			if err := txn.Delete(jobKey(orderID)); err != nil {
				return err
			}
			val, err := json.Marshal(job)
			if err != nil {
				return err
			}
			return txn.Set(failedKey(orderID), val)
		}
		redeliver = true
		job.NotBefore = time.Now().Add(q.policy.Delay(job.Attempts))
		updated = job
		val, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set(jobKey(orderID), val)
	})
	if err != nil {
		return Job{}, false, fmt.Errorf("failing job %s: %w", orderID, err)
	}
	q.mu.Lock()
	delete(q.leased, orderID)
	metrics.QueueActive.Set(float64(len(q.leased)))
	q.mu.Unlock()
	if !redeliver {
		q.logger.Warn("job moved to failed set",
			zap.String("orderId", orderID),
			zap.Int("attempts", updated.Attempts))
	}
	return updated, redeliver, nil
}

func (q *BadgerQueue) loadJob(txn *badger.Txn, orderID string) (Job, error) {
	var job Job
	item, err := txn.Get(jobKey(orderID))
	if err != nil {
		return Job{}, fmt.Errorf("job %s not found: %w", orderID, err)
	}
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &job) }); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Pause stops deliveries. In-flight jobs run to completion.
func (q *BadgerQueue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume restarts deliveries.
func (q *BadgerQueue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// Drain removes every job that is not currently leased.
func (q *BadgerQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var toDelete [][]byte
		for it.Seek([]byte(readyPrefix)); it.ValidForPrefix([]byte(readyPrefix)); it.Next() {
			key := it.Item().KeyCopy(nil)
			orderID := orderIDFromReadyKey(key)
			if _, held := q.leased[orderID]; held {
				continue
			}
			toDelete = append(toDelete, key, jobKey(orderID))
		}
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats counts jobs by disposition and refreshes the queue gauges.
func (q *BadgerQueue) Stats(ctx context.Context) (Metrics, error) {
	q.mu.Lock()
	active := len(q.leased)
	completed := q.completed
	leased := make(map[string]struct{}, len(q.leased))
	for id := range q.leased {
		leased[id] = struct{}{}
	}
	q.mu.Unlock()

	m := Metrics{Active: active, Completed: completed}
	now := time.Now()
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(readyPrefix)); it.ValidForPrefix([]byte(readyPrefix)); it.Next() {
			orderID := orderIDFromReadyKey(it.Item().Key())
			if _, held := leased[orderID]; held {
				continue
			}
			item, err := txn.Get(jobKey(orderID))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var job Job
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &job) }); err != nil {
				return err
			}
			if job.NotBefore.After(now) {
				m.Delayed++
			} else {
				m.Waiting++
			}
		}
		for it.Seek([]byte(failedPrefix)); it.ValidForPrefix([]byte(failedPrefix)); it.Next() {
			m.Failed++
		}
		return nil
	})
	if err != nil {
		return Metrics{}, fmt.Errorf("counting queue: %w", err)
	}

	metrics.QueueWaiting.Set(float64(m.Waiting))
	metrics.QueueDelayed.Set(float64(m.Delayed))
	metrics.QueueActive.Set(float64(m.Active))
	return m, nil
}

// Close shuts the underlying database.
func (q *BadgerQueue) Close() error {
	return q.db.Close()
}

// Package queue implements the durable work queue the pipeline drains.
// Jobs are keyed by order identifier, so re-enqueueing an order is a no-op
// and at most one attempt per order is ever in flight.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Dequeue when no job is ready.
var ErrEmpty = errors.New("queue is empty")

// ErrPaused is returned by Dequeue while the queue is paused.
var ErrPaused = errors.New("queue is paused")

// Job is one unit of pipeline work. The job identifier equals the order
// identifier.
type Job struct {
	OrderID    string    `json:"orderId"`
	TokenIn    string    `json:"tokenIn"`
	TokenOut   string    `json:"tokenOut"`
	AmountIn   int64     `json:"amountIn"`
	Slippage   float64   `json:"slippage"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	NotBefore  time.Time `json:"notBefore"`
}

// BackoffPolicy governs re-delivery delays after worker failures.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	MaxDelay    time.Duration
}

// Delay returns the re-delivery delay after the n-th failed attempt.
func (p BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= time.Duration(p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Metrics is a point-in-time census of the queue.
type Metrics struct {
	Waiting   int
	Active    int
	Delayed   int
	Completed int
	Failed    int
}

// Queue is the work-queue substrate contract.
type Queue interface {
	// Enqueue inserts the job unless one with the same order id exists.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue leases the oldest ready job. ErrEmpty when nothing is ready,
	// ErrPaused while paused.
	Dequeue(ctx context.Context) (Job, error)
	// Complete removes a leased job permanently.
	Complete(ctx context.Context, orderID string) error
	// Fail releases a leased job: re-scheduled with backoff while attempts
	// remain, moved to the failed set otherwise. Returns the updated job
	// and whether it will be re-delivered.
	Fail(ctx context.Context, orderID string) (Job, bool, error)
	// Pause stops deliveries; Resume restarts them.
	Pause()
	Resume()
	// Drain removes all jobs that are not currently leased.
	Drain(ctx context.Context) error
	// Stats reports queue counts.
	Stats(ctx context.Context) (Metrics, error)
	// Close releases the substrate.
	Close() error
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/internal/queue"
)

const idlePoll = 100 * time.Millisecond

// Pool runs a bounded set of workers over the shared queue. Each leased
// job is owned by exactly one worker until Complete or Fail.
type Pool struct {
	queue       queue.Queue
	worker      *Worker
	concurrency int
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	// inflight tracks jobs between lease and release for shutdown waiting.
	inflight sync.WaitGroup
}

// NewPool creates a pool of the given width.
func NewPool(q queue.Queue, worker *Worker, concurrency int, logger *zap.Logger) *Pool {
	return &Pool{
		queue:       q,
		worker:      worker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches the worker goroutines. Call Shutdown to stop them.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("pipeline pool started", zap.Int("concurrency", p.concurrency))
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err == queue.ErrEmpty || err == queue.ErrPaused {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			continue
		}
		if err != nil {
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
			continue
		}

		p.inflight.Add(1)
		p.handle(ctx, log, job)
		p.inflight.Done()
	}
}

func (p *Pool) handle(ctx context.Context, log *zap.Logger, job queue.Job) {
	if err := p.worker.Process(ctx, job); err != nil {
		log.Error("job processing failed, releasing to substrate",
			zap.String("orderId", job.OrderID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		if _, redeliver, failErr := p.queue.Fail(ctx, job.OrderID); failErr != nil {
			log.Error("releasing job failed", zap.String("orderId", job.OrderID), zap.Error(failErr))
		} else if !redeliver {
			log.Warn("job exhausted substrate attempts", zap.String("orderId", job.OrderID))
		}
		return
	}
	if err := p.queue.Complete(ctx, job.OrderID); err != nil {
		log.Error("completing job failed", zap.String("orderId", job.OrderID), zap.Error(err))
	}
}

// Shutdown pauses the queue and waits up to timeout for in-flight jobs,
// then stops the workers.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.logger.Info("pipeline pool shutting down")
	p.queue.Pause()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("shutdown timeout elapsed, abandoning in-flight jobs")
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("pipeline pool stopped")
}

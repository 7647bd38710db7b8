// Package resilience provides the retry helper and circuit breaker that
// wrap flaky venue calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexadex/swapflow/pkg/errors"
	"github.com/nexadex/swapflow/pkg/metrics"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int32

const (
	// StateClosed - normal operation, calls pass through
	StateClosed BreakerState = iota
	// StateOpen - circuit is open, calls fail fast
	StateOpen
	// StateHalfOpen - a single probe is admitted to test recovery
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
}

// DefaultBreakerConfig mirrors the documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
	}
}

// Breaker guards a single downstream venue. Failures within the monitoring
// window accumulate; reaching the threshold opens the breaker until the
// reset timeout elapses, after which one probe is admitted.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *zap.Logger

	mu            sync.Mutex
	state         BreakerState
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

// NewBreaker creates a closed breaker named after the venue it guards.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Execute runs fn under breaker protection. While the breaker is open it
// fails fast with a non-retryable SYSTEM error and fn is never invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			b.probeInFlight = true
			b.logger.Info("circuit breaker admitting half-open probe",
				zap.String("venue", b.name))
			return nil
		}
	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return nil
		}
	}
	return errors.NewSystem("circuit breaker OPEN for %s", b.name).
		NonRetryable().
		WithContext("venue", b.name).
		WithContext("state", b.state.String())
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.failures = 0
		b.probeInFlight = false
		b.logger.Info("circuit breaker closed after successful probe",
			zap.String("venue", b.name))
		return
	}
	// Success inside the monitoring window does not reset the count; the
	// window expiry does.
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		b.setState(StateOpen)
		b.openedAt = now
		b.probeInFlight = false
		b.logger.Warn("circuit breaker reopened after failed probe",
			zap.String("venue", b.name))
	case StateClosed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.MonitoringPeriod {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
			b.openedAt = now
			b.logger.Warn("circuit breaker opened",
				zap.String("venue", b.name),
				zap.Int("failures", b.failures),
				zap.Int("threshold", b.cfg.FailureThreshold))
		}
	}
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.probeInFlight = false
	b.logger.Info("circuit breaker manually reset", zap.String("venue", b.name))
}

// Package breaker implements a per-dependency failure-isolation state
// machine. A Breaker wraps one fallible outbound dependency so that repeated
// failures stop generating load against it, while a periodic trial call
// probes for recovery and an optional fallback provides a degraded mode.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reportpipe/internal/metrics"
)

// State represents the breaker state.
type State int

const (
	StateClosed State = iota // normal operation, calls pass through
	StateOpen                // calls are rejected until the reset timeout elapses
	StateHalfOpen            // a single trial call is probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds for one guarded dependency.
type Config struct {
	// Name identifies the breaker in errors, logs and metrics.
	Name string
	// FailureThreshold is the failure rate in (0,1] at which the breaker opens.
	FailureThreshold float64
	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration
	// MonitoringPeriod is the advisory window metrics are interpreted over.
	// The implementation uses a single accumulating window that resets on a
	// successful trial rather than a literal sliding window.
	MonitoringPeriod time.Duration
	// MinimumThroughput is the request count below which the failure rate
	// cannot trip the breaker.
	MinimumThroughput int
}

// Metrics holds the accumulated call counters. Requests is always the sum of
// Successes and Failures.
type Metrics struct {
	Requests  int
	Successes int
	Failures  int
}

// FailureRate returns failures/requests, 0 when no requests were observed.
func (m Metrics) FailureRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Requests)
}

// Breaker guards one dependency. Safe for concurrent use; only the
// bookkeeping runs under the lock, never the wrapped call.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	openedAt time.Time
	trial    bool
	metrics  Metrics
}

// New creates a breaker with defaults applied for unset config fields.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = time.Minute
	}
	if cfg.MinimumThroughput <= 0 {
		cfg.MinimumThroughput = 5
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	return &Breaker{cfg: cfg, now: time.Now}
}

type admitMode int

const (
	admitPass admitMode = iota
	admitTrial
	admitReject
)

// admit decides whether a call may start and performs the OPEN -> HALF_OPEN
// transition when the reset timeout has elapsed.
func (b *Breaker) admit() admitMode {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return admitPass

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return admitReject
		}
		b.state = StateHalfOpen
		b.trial = true
		metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(StateHalfOpen))
		slog.Info("circuit breaker half-open, allowing trial call", "breaker", b.cfg.Name)
		return admitTrial

	default: // StateHalfOpen
		if b.trial {
			// A trial is already in flight; additional callers are treated
			// as if the breaker were still open.
			return admitReject
		}
		b.trial = true
		return admitTrial
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	b.metrics.Successes++

	if trial {
		b.metrics = Metrics{}
		b.state = StateClosed
		b.trial = false
		b.openedAt = time.Time{}
		metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(StateClosed))
		slog.Info("circuit breaker closed after successful trial", "breaker", b.cfg.Name)
	}
}

func (b *Breaker) onFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.Requests++
	b.metrics.Failures++

	if trial {
		// A single half-open failure always reopens, regardless of rate.
		b.open()
		return
	}

	if b.state == StateClosed &&
		b.metrics.Requests >= b.cfg.MinimumThroughput &&
		b.metrics.FailureRate() >= b.cfg.FailureThreshold {
		b.open()
	}
}

// open transitions to OPEN. Caller must hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trial = false
	metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(StateOpen))
	metrics.BreakerTrips.WithLabelValues(b.cfg.Name).Inc()
	slog.Warn("circuit breaker opened",
		"breaker", b.cfg.Name,
		"requests", b.metrics.Requests,
		"failures", b.metrics.Failures,
		"failure_rate", b.metrics.FailureRate(),
	)
}

// Execute runs op through the breaker. When the breaker blocks the call or op
// fails, fallback (if non-nil) is invoked instead and its result returned;
// without a fallback, a blocked call returns an *OpenError and an op failure
// is propagated verbatim.
func Execute[T any](
	ctx context.Context,
	b *Breaker,
	op func(context.Context) (T, error),
	fallback func(context.Context) (T, error),
) (T, error) {
	var zero T

	mode := b.admit()
	if mode == admitReject {
		metrics.BreakerRequests.WithLabelValues(b.cfg.Name, "rejected").Inc()
		if fallback != nil {
			return fallback(ctx)
		}
		return zero, &OpenError{Name: b.cfg.Name}
	}

	result, err := op(ctx)
	if err != nil {
		b.onFailure(mode == admitTrial)
		metrics.BreakerRequests.WithLabelValues(b.cfg.Name, "failure").Inc()
		if fallback != nil {
			return fallback(ctx)
		}
		return zero, err
	}

	b.onSuccess(mode == admitTrial)
	metrics.BreakerRequests.WithLabelValues(b.cfg.Name, "success").Inc()
	return result, nil
}

// Do runs an operation without a result value through the breaker.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, nil)
	return err
}

// IsHealthy reports whether the dependency looks usable. It is false whenever
// the breaker is open, and false in the early-warning band where the failure
// rate has reached 80% of the trip threshold.
func (b *Breaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		return false
	}
	return b.metrics.FailureRate() < 0.8*b.cfg.FailureThreshold
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the call counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Config returns the breaker configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

// OpenedAt returns the time of the most recent transition into OPEN, zero
// while closed.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// Reset forces the breaker closed and zeroes all metrics. Operator escape
// hatch, not used by normal execution.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.trial = false
	b.openedAt = time.Time{}
	b.metrics = Metrics{}
	metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(StateClosed))
}

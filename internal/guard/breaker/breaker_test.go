package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testClock lets tests advance breaker time manually.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config, clock *testClock) *Breaker {
	b := New(cfg)
	b.now = clock.Now
	return b
}

var errUpstream = errors.New("upstream exploded")

func fail(ctx context.Context) (string, error) {
	return "", errUpstream
}

func succeed(ctx context.Context) (string, error) {
	return "ok", nil
}

func TestThresholdTrip(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		ResetTimeout:      30 * time.Second,
		MinimumThroughput: 4,
	}, clock)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := Execute(ctx, b, fail, nil); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after threshold trip, got %v", got)
	}
	if b.OpenedAt().IsZero() {
		t.Error("expected openedAt to be set while open")
	}

	// While open and within the reset timeout, the operation is never invoked.
	invoked := false
	_, err := Execute(ctx, b, func(ctx context.Context) (string, error) {
		invoked = true
		return "", nil
	}, nil)
	if invoked {
		t.Error("operation must not be invoked while open")
	}
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected breaker-open error, got %v", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) || openErr.Name != "collector" {
		t.Errorf("expected OpenError naming the breaker, got %v", err)
	}
}

func TestNoTripBelowThroughput(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		MinimumThroughput: 5,
	}, newTestClock())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := Execute(ctx, b, fail, nil); !errors.Is(err, errUpstream) {
			t.Fatalf("expected upstream error, got %v", err)
		}
	}

	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed below minimum throughput, got %v", got)
	}
}

func openBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	ctx := context.Background()
	needed := b.Config().MinimumThroughput
	for i := 0; i < needed; i++ {
		_, _ = Execute(ctx, b, fail, nil)
	}
	if b.State() != StateOpen {
		t.Fatalf("setup: expected open breaker, got %v", b.State())
	}
}

func TestHalfOpenTrialSuccess(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(Config{
		Name:              "inference",
		FailureThreshold:  0.5,
		ResetTimeout:      30 * time.Second,
		MinimumThroughput: 2,
	}, clock)
	openBreaker(t, b)

	clock.Advance(31 * time.Second)

	calls := 0
	result, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		calls++
		return "recovered", nil
	}, nil)
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if result != "recovered" {
		t.Errorf("expected trial result, got %q", result)
	}
	if calls != 1 {
		t.Errorf("expected exactly one trial invocation, got %d", calls)
	}

	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed after successful trial, got %v", got)
	}
	if m := b.Metrics(); m != (Metrics{}) {
		t.Errorf("expected metrics reset to zero after trial success, got %+v", m)
	}
	if !b.OpenedAt().IsZero() {
		t.Error("expected openedAt cleared after trial success")
	}
}

func TestHalfOpenTrialFailure(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(Config{
		Name:              "inference",
		FailureThreshold:  0.5,
		ResetTimeout:      30 * time.Second,
		MinimumThroughput: 2,
	}, clock)
	openBreaker(t, b)
	firstOpenedAt := b.OpenedAt()

	clock.Advance(31 * time.Second)

	if _, err := Execute(context.Background(), b, fail, nil); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error from trial, got %v", err)
	}

	if got := b.State(); got != StateOpen {
		t.Errorf("expected open after failed trial, got %v", got)
	}
	if !b.OpenedAt().After(firstOpenedAt) {
		t.Error("expected openedAt updated to the trial's time")
	}
	// A failed trial increments metrics but does not reset them.
	if m := b.Metrics(); m.Failures != 3 || m.Requests != 3 {
		t.Errorf("expected accumulated metrics, got %+v", m)
	}
}

func TestFallbackWhenOpen(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		ResetTimeout:      time.Minute,
		MinimumThroughput: 2,
	}, clock)
	openBreaker(t, b)

	invoked := false
	result, err := Execute(context.Background(), b,
		func(ctx context.Context) (string, error) {
			invoked = true
			return "primary", nil
		},
		func(ctx context.Context) (string, error) {
			return "degraded", nil
		})
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if invoked {
		t.Error("operation must not be invoked while open and within reset timeout")
	}
	if result != "degraded" {
		t.Errorf("expected fallback result, got %q", result)
	}
}

func TestFallbackOnClosedFailure(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		MinimumThroughput: 10,
	}, newTestClock())

	result, err := Execute(context.Background(), b, fail,
		func(ctx context.Context) (string, error) {
			return "degraded", nil
		})
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if result != "degraded" {
		t.Errorf("expected fallback result, got %q", result)
	}
	if m := b.Metrics(); m.Failures != 1 {
		t.Errorf("failure must still be counted when the fallback runs, got %+v", m)
	}
}

func TestUpstreamErrorIdentityPreserved(t *testing.T) {
	b := newTestBreaker(Config{Name: "collector", MinimumThroughput: 10}, newTestClock())

	sentinel := errors.New("very specific upstream condition")
	_, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		return "", sentinel
	}, nil)
	if err != sentinel {
		t.Errorf("expected upstream error returned verbatim, got %v", err)
	}
}

func TestHealthBand(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "inference",
		FailureThreshold:  0.5,
		MinimumThroughput: 100,
	}, newTestClock())
	ctx := context.Background()

	// 3 successes + 1 failure: rate 0.25 < 0.4 band.
	for i := 0; i < 3; i++ {
		_, _ = Execute(ctx, b, succeed, nil)
	}
	_, _ = Execute(ctx, b, fail, nil)
	if !b.IsHealthy() {
		t.Error("expected healthy at failure rate below the warning band")
	}

	// One more failure: rate 0.4 >= 0.8 * 0.5.
	_, _ = Execute(ctx, b, fail, nil)
	if b.IsHealthy() {
		t.Error("expected unhealthy once failure rate reaches 80% of threshold")
	}
}

func TestUnhealthyWhileOpen(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		MinimumThroughput: 2,
	}, newTestClock())
	openBreaker(t, b)

	if b.IsHealthy() {
		t.Error("expected unhealthy while open")
	}
}

func TestReset(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		MinimumThroughput: 2,
	}, newTestClock())
	openBreaker(t, b)

	b.Reset()

	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed after reset, got %v", got)
	}
	if m := b.Metrics(); m != (Metrics{}) {
		t.Errorf("expected zero metrics after reset, got %+v", m)
	}
	if !b.OpenedAt().IsZero() {
		t.Error("expected openedAt cleared after reset")
	}
}

func TestSingleTrialUnderConcurrency(t *testing.T) {
	clock := newTestClock()
	b := newTestBreaker(Config{
		Name:              "inference",
		FailureThreshold:  0.5,
		ResetTimeout:      30 * time.Second,
		MinimumThroughput: 2,
	}, clock)
	openBreaker(t, b)

	clock.Advance(31 * time.Second)

	var mu sync.Mutex
	invocations := 0
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
				mu.Lock()
				invocations++
				mu.Unlock()
				<-release
				return "ok", nil
			}, nil)
			results[i] = err
		}(i)
	}

	// Give the winning goroutine time to enter the trial, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if invocations != 1 {
		t.Errorf("expected exactly one trial invocation, got %d", invocations)
	}
	var rejected int
	for _, err := range results {
		if errors.Is(err, ErrOpen) {
			rejected++
		}
	}
	if rejected != 9 {
		t.Errorf("expected 9 rejected callers during the trial, got %d", rejected)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after the trial succeeded, got %v", b.State())
	}
}

func TestConcurrentBookkeeping(t *testing.T) {
	b := newTestBreaker(Config{
		Name:              "collector",
		FailureThreshold:  0.5,
		MinimumThroughput: 1000, // never trips in this test
	}, newTestClock())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Execute(context.Background(), b, succeed, nil)
			} else {
				_, _ = Execute(context.Background(), b, fail, nil)
			}
		}(i)
	}
	wg.Wait()

	m := b.Metrics()
	if m.Requests != 100 {
		t.Errorf("expected 100 requests, got %d", m.Requests)
	}
	if m.Requests != m.Successes+m.Failures {
		t.Errorf("metrics invariant violated: %+v", m)
	}
}

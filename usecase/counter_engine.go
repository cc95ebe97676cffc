package usecase

import (
	"context"
	"math"
	"time"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/pkg/logging"
)

// WindowCheck is the outcome of evaluating one counter against its
// effective limit.
type WindowCheck struct {
	Allowed    bool
	Limit      int64
	Count      int64
	Estimate   float64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// CounterEngine implements fixed-window counting with boundary
// smoothing against the shared atomic store.
//
// Each key's counter resets every window. To avoid the classic 2x edge
// burst at window boundaries the engine weighs in the previous window's
// final count:
//
//	estimate = current + previous * (1 - elapsedFraction)
//
// where elapsedFraction is how far the current window has progressed.
// This approximates a sliding-window log in O(1) space per key; the
// store returns both counts from a single atomic round trip.
type CounterEngine struct {
	store  service.CounterStore
	logger *logging.Logger

	// now is swappable for deterministic tests
	now func() time.Time
}

// NewCounterEngine creates a new counter engine
func NewCounterEngine(store service.CounterStore, logger *logging.Logger) *CounterEngine {
	return &CounterEngine{
		store:  store,
		logger: logger.WithComponent("counter_engine"),
		now:    time.Now,
	}
}

// Check atomically counts one request against key and reports whether
// the smoothed estimate stays within effectiveLimit. The increment is
// never skipped: if the store acknowledged it, it counts, even when the
// verdict is a denial.
func (e *CounterEngine) Check(ctx context.Context, key string, window time.Duration, effectiveLimit int64) (WindowCheck, error) {
	sample, err := e.store.IncrementWindow(ctx, key, window)
	if err != nil {
		return WindowCheck{}, entity.NewStoreUnavailableError(err)
	}
	return e.evaluate(sample, window, effectiveLimit), nil
}

// Usage reads the current sample for key without counting a request.
func (e *CounterEngine) Usage(ctx context.Context, key string, window time.Duration, effectiveLimit int64) (WindowCheck, error) {
	sample, err := e.store.PeekWindow(ctx, key, window)
	if err != nil {
		return WindowCheck{}, entity.NewStoreUnavailableError(err)
	}
	return e.evaluate(sample, window, effectiveLimit), nil
}

func (e *CounterEngine) evaluate(sample service.WindowSample, window time.Duration, effectiveLimit int64) WindowCheck {
	now := e.now()

	elapsed := now.Sub(sample.WindowStart)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > window {
		elapsed = window
	}
	overlap := 1 - float64(elapsed)/float64(window)

	estimate := float64(sample.Current) + float64(sample.Previous)*overlap
	remaining := effectiveLimit - int64(math.Ceil(estimate))
	if remaining < 0 {
		remaining = 0
	}

	resetAt := sample.WindowStart.Add(window)

	check := WindowCheck{
		Allowed:   estimate <= float64(effectiveLimit),
		Limit:     effectiveLimit,
		Count:     sample.Current,
		Estimate:  estimate,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !check.Allowed {
		check.RetryAfter = clampRetryAfter(resetAt.Sub(now))
	}
	return check
}

// clampRetryAfter enforces the invariant that every denial carries a
// retry-after of at least one second.
func clampRetryAfter(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

// RetryAfterSeconds converts a retry-after duration to whole seconds,
// rounded up, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

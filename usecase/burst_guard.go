package usecase

import (
	"context"
	"time"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/pkg/logging"
)

// BurstKeyPrefix namespaces burst counters away from the main window
// counters so their shorter TTL and reset cadence never interfere with
// the main window's accounting.
const BurstKeyPrefix = "burst:"

// BurstGuard is a short-horizon fixed-window check layered in front of
// the main counter to stop sub-second bursts a one-minute window would
// not catch in time. Same store, same atomicity requirements, separate
// key namespace. No boundary smoothing: burst windows are short enough
// that a plain fixed window is the intended behavior.
type BurstGuard struct {
	store  service.CounterStore
	logger *logging.Logger
	now    func() time.Time
}

// NewBurstGuard creates a new burst guard
func NewBurstGuard(store service.CounterStore, logger *logging.Logger) *BurstGuard {
	return &BurstGuard{
		store:  store,
		logger: logger.WithComponent("burst_guard"),
		now:    time.Now,
	}
}

// Check atomically counts one request against the burst sub-window for
// key and reports whether the count stays within burstLimit.
func (g *BurstGuard) Check(ctx context.Context, key string, burstWindow time.Duration, burstLimit int64) (WindowCheck, error) {
	sample, err := g.store.IncrementWindow(ctx, BurstKeyPrefix+key, burstWindow)
	if err != nil {
		return WindowCheck{}, entity.NewStoreUnavailableError(err)
	}

	now := g.now()
	resetAt := sample.WindowStart.Add(burstWindow)
	remaining := burstLimit - sample.Current
	if remaining < 0 {
		remaining = 0
	}

	check := WindowCheck{
		Allowed:   sample.Current <= burstLimit,
		Limit:     burstLimit,
		Count:     sample.Current,
		Estimate:  float64(sample.Current),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !check.Allowed {
		check.RetryAfter = clampRetryAfter(resetAt.Sub(now))
	}
	return check, nil
}

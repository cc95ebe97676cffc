package service

import (
	"context"
	"time"

	"isectech/ratelimit-service/domain/entity"
)

// WindowSample is the result of one atomic counter operation: the
// post-operation count of the current window, the final count of the
// previous window and the current window's start. Both counts come back
// from a single store round trip so the boundary-smoothing estimate
// never needs a second read.
type WindowSample struct {
	Current     int64
	Previous    int64
	WindowStart time.Time
}

// CounterStore is the narrow contract against the shared atomic store.
// All mutation is a single-round-trip atomic read-modify-write at the
// store; callers never issue read-then-write pairs. Counters are created
// lazily with a TTL applied only on first creation and expire naturally.
type CounterStore interface {
	// IncrementWindow atomically increments the counter for key in the
	// fixed window that contains now and returns the sample.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (WindowSample, error)

	// PeekWindow reads the sample without incrementing. Used by the
	// administrative API and usage reporting.
	PeekWindow(ctx context.Context, key string, window time.Duration) (WindowSample, error)

	// ResetWindows clears the current and previous windows for the given
	// keys. Administrative resets only; counters otherwise expire via TTL.
	ResetWindows(ctx context.Context, window time.Duration, keys ...string) error
}

// BehaviorParams are the shared decay constants for behavior scores.
// Every process must be configured with the same values or multipliers
// computed from the same stored score would disagree.
type BehaviorParams struct {
	// Increment added to the score on each deny event.
	Increment float64
	// Ceiling the score never exceeds.
	Ceiling float64
	// HalfLife of the multiplicative decay toward zero.
	HalfLife time.Duration
}

// BehaviorStore tracks the decaying violation score per identity used by
// the adaptive adjuster. Mutations are atomic at the store so concurrent
// processes never lose an increment; reads return the decayed score.
type BehaviorStore interface {
	RecordViolation(ctx context.Context, identity string) (float64, error)
	Score(ctx context.Context, identity string) (float64, error)
	ResetScore(ctx context.Context, identity string) error
}

// OverrideStore persists temporary manual tier overrides.
type OverrideStore interface {
	SetOverride(ctx context.Context, override entity.TierOverride, ttl time.Duration) error
	// GetOverride returns nil without error when no override exists.
	GetOverride(ctx context.Context, identity string) (*entity.TierOverride, error)
	DeleteOverride(ctx context.Context, identity string) error
}

// AdmissionService is the single decision point invoked by the edge of
// the domain layer for every inbound request. It never returns an
// operational error: store failures resolve to a degraded Decision via
// the configured fail policy.
type AdmissionService interface {
	Check(ctx context.Context, caller entity.CallerContext, endpointCategory string) entity.Decision
}

// RuleProvider resolves the active limit rule for a (tier, category)
// pair from the immutable configuration snapshot.
type RuleProvider interface {
	Resolve(tier entity.Tier, endpointCategory string) entity.LimitRule
	Snapshot() []entity.LimitRule
	Version() int64
}

// AuditRepository records administrative mutations for the audit trail.
type AuditRepository interface {
	LogAdminEvent(ctx context.Context, record *entity.AuditRecord) error
}

// EventPublisher emits rate-limit security events onto the platform
// event stream. Publishing is best-effort and must never block or fail
// the decision path.
type EventPublisher interface {
	PublishDenyEvent(ctx context.Context, caller entity.CallerContext, decision entity.Decision, endpointCategory string)
	PublishAdminEvent(ctx context.Context, record *entity.AuditRecord)
	Close() error
}

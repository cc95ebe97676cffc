// Package store provides the shared-store implementations behind the
// counter engine, burst guard, adaptive adjuster and override lookup:
// a Redis-backed store for multi-process deployments and an in-memory
// store for single-process deployments and tests.
package store

import (
	"context"
	"sync"
	"time"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
)

// windowEntry is the in-memory counter state for one key
type windowEntry struct {
	windowIndex int64
	current     int64
	previous    int64
	touchedAt   time.Time
}

// behaviorEntry is the in-memory behavior score state for one identity
type behaviorEntry struct {
	score     float64
	updatedAt time.Time
}

// MemoryStore implements CounterStore, BehaviorStore and OverrideStore
// in process memory. It mirrors the Redis store's semantics exactly so
// the counter engine and burst guard are testable against it, and
// serves single-process deployments where no shared store exists.
type MemoryStore struct {
	behaviorParams service.BehaviorParams

	mu        sync.Mutex
	windows   map[string]*windowEntry
	behaviors map[string]*behaviorEntry
	overrides map[string]entity.TierOverride

	// now is swappable for deterministic tests
	now func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(behaviorParams service.BehaviorParams) *MemoryStore {
	return &MemoryStore{
		behaviorParams: behaviorParams,
		windows:        make(map[string]*windowEntry),
		behaviors:      make(map[string]*behaviorEntry),
		overrides:      make(map[string]entity.TierOverride),
		now:            time.Now,
	}
}

// SetClock swaps the store's clock. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// IncrementWindow atomically increments the counter for key in the
// fixed window containing now. Window boundaries are epoch-aligned and
// only ever move forward, even if the clock reads backward.
func (s *MemoryStore) IncrementWindow(_ context.Context, key string, window time.Duration) (service.WindowSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance(key, window, 1), nil
}

// PeekWindow reads the sample without incrementing
func (s *MemoryStore) PeekWindow(_ context.Context, key string, window time.Duration) (service.WindowSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advance(key, window, 0), nil
}

func (s *MemoryStore) advance(key string, window time.Duration, delta int64) service.WindowSample {
	now := s.now()
	index := now.UnixMilli() / window.Milliseconds()

	entry, ok := s.windows[key]
	if !ok {
		entry = &windowEntry{windowIndex: index}
		s.windows[key] = entry
	}

	switch {
	case index == entry.windowIndex:
		// same window
	case index == entry.windowIndex+1:
		entry.previous = entry.current
		entry.current = 0
		entry.windowIndex = index
	case index > entry.windowIndex:
		entry.previous = 0
		entry.current = 0
		entry.windowIndex = index
	default:
		// clock went backward; window boundaries are monotonic
		index = entry.windowIndex
	}

	entry.current += delta
	entry.touchedAt = now

	return service.WindowSample{
		Current:     entry.current,
		Previous:    entry.previous,
		WindowStart: time.UnixMilli(entry.windowIndex * window.Milliseconds()),
	}
}

// ResetWindows clears the current and previous windows for the keys
func (s *MemoryStore) ResetWindows(_ context.Context, _ time.Duration, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.windows, key)
	}
	return nil
}

// RecordViolation decays and increments the behavior score for an
// identity, capped at the ceiling, and returns the new score.
func (s *MemoryStore) RecordViolation(_ context.Context, identity string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.behaviors[identity]
	if !ok {
		entry = &behaviorEntry{updatedAt: now}
		s.behaviors[identity] = entry
	}

	score := entity.BehaviorScore{Score: entry.score, UpdatedAt: entry.updatedAt}.
		DecayedScore(now, s.behaviorParams.HalfLife)
	score += s.behaviorParams.Increment
	if score > s.behaviorParams.Ceiling {
		score = s.behaviorParams.Ceiling
	}

	entry.score = score
	entry.updatedAt = now
	return score, nil
}

// Score returns the decayed behavior score for an identity
func (s *MemoryStore) Score(_ context.Context, identity string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.behaviors[identity]
	if !ok {
		return 0, nil
	}
	return entity.BehaviorScore{Score: entry.score, UpdatedAt: entry.updatedAt}.
		DecayedScore(s.now(), s.behaviorParams.HalfLife), nil
}

// ResetScore clears the behavior score for an identity
func (s *MemoryStore) ResetScore(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.behaviors, identity)
	return nil
}

// SetOverride installs a tier override
func (s *MemoryStore) SetOverride(_ context.Context, override entity.TierOverride, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[override.Identity] = override
	return nil
}

// GetOverride returns the override for an identity, nil when absent or
// expired
func (s *MemoryStore) GetOverride(_ context.Context, identity string) (*entity.TierOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	override, ok := s.overrides[identity]
	if !ok {
		return nil, nil
	}
	if override.Expired(s.now()) {
		delete(s.overrides, identity)
		return nil, nil
	}
	return &override, nil
}

// DeleteOverride removes the override for an identity
func (s *MemoryStore) DeleteOverride(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, identity)
	return nil
}

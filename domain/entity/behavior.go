package entity

import (
	"math"
	"time"
)

// BehaviorScore is a decaying counter of recent violations for one
// identity. It is created on the first violation, decays toward zero
// with a configurable half-life and never exceeds the ceiling.
type BehaviorScore struct {
	Identity  string    `json:"identity"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecayedScore returns the score as seen at the given time, applying
// multiplicative half-life decay since the last update. Two processes
// computing this independently from the same stored state always agree.
func (b BehaviorScore) DecayedScore(now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return b.Score
	}
	elapsed := now.Sub(b.UpdatedAt)
	if elapsed <= 0 {
		return b.Score
	}
	return b.Score * math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

// TierOverride is a temporary manual tier assignment for one identity,
// set by an operator independently of the adaptive adjuster.
type TierOverride struct {
	Identity  string    `json:"identity" msgpack:"identity"`
	Tier      Tier      `json:"tier" msgpack:"tier"`
	SetBy     string    `json:"set_by" msgpack:"set_by"`
	Reason    string    `json:"reason,omitempty" msgpack:"reason"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	ExpiresAt time.Time `json:"expires_at" msgpack:"expires_at"`
}

// Expired reports whether the override has lapsed
func (o TierOverride) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

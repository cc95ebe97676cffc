package entity

import "time"

// Decision is the per-request verdict of the decision pipeline. It is
// never persisted; a fresh value is constructed for every request.
type Decision struct {
	Admitted bool `json:"admitted"`

	// ViolatedScope identifies the first violated key's scope on deny.
	// Empty on admit and on fail-closed degraded denials.
	ViolatedScope Scope `json:"violated_scope,omitempty"`

	// Limit, Remaining and ResetAt describe the most restrictive key
	// evaluated, so callers can expose standard quota headers even on admit.
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`

	// RetryAfterSeconds is set on every denial and is always >= 1.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Degraded marks decisions resolved through the fail policy while the
	// shared store was unreachable. Remaining carries no precision
	// guarantee on a degraded decision.
	Degraded bool `json:"degraded,omitempty"`
}

// ReasonCode returns the machine-readable deny reason attached to
// 429 responses.
func (d Decision) ReasonCode() string {
	if d.Admitted {
		return ""
	}
	switch d.ViolatedScope {
	case ScopeIP:
		return "RATE_LIMITED_IP"
	case ScopeUser:
		return "RATE_LIMITED_USER"
	case ScopeTenant:
		return "RATE_LIMITED_TENANT"
	case ScopeEndpoint:
		return "RATE_LIMITED_ENDPOINT"
	default:
		return "RATE_LIMITED"
	}
}

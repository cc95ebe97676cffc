package entity

import (
	"fmt"
	"time"
)

// Tier represents a subscription plan level determining baseline limits
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"

	// TierDefault is the wildcard tier used by the configuration table
	// when no tier-specific rule exists.
	TierDefault Tier = "default"
)

// Scope represents the identity dimension a counter is keyed on
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeTenant   Scope = "tenant"
	ScopeEndpoint Scope = "endpoint"
)

// Well-known endpoint categories. The domain layer maps its own routes to
// these labels; the limiter never parses request paths.
const (
	CategoryDefault = "default"
	CategoryGlobal  = "global"
)

// LimitRule carries the limit parameters for a (tier, endpoint category)
// pair. Rules are immutable during request processing; the configuration
// table swaps whole snapshots on reload.
type LimitRule struct {
	Tier             Tier   `json:"tier" mapstructure:"tier"`
	EndpointCategory string `json:"endpoint_category" mapstructure:"endpoint_category"`

	RequestsPerWindow  int  `json:"requests_per_window" mapstructure:"requests_per_window"`
	WindowSeconds      int  `json:"window_seconds" mapstructure:"window_seconds"`
	BurstLimit         int  `json:"burst_limit" mapstructure:"burst_limit"`
	BurstWindowSeconds int  `json:"burst_window_seconds" mapstructure:"burst_window_seconds"`
	AdaptiveEnabled    bool `json:"adaptive_enabled" mapstructure:"adaptive_enabled"`
}

// Validate checks that the rule is well formed. Malformed rules are a
// configuration error rejected at load time, never at request time.
func (r *LimitRule) Validate() error {
	if r.Tier == "" {
		return fmt.Errorf("rule for category %q: tier is required", r.EndpointCategory)
	}
	if r.EndpointCategory == "" {
		return fmt.Errorf("rule for tier %q: endpoint category is required", r.Tier)
	}
	if r.RequestsPerWindow <= 0 {
		return fmt.Errorf("rule %s/%s: requests_per_window must be positive, got %d",
			r.Tier, r.EndpointCategory, r.RequestsPerWindow)
	}
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("rule %s/%s: window_seconds must be positive, got %d",
			r.Tier, r.EndpointCategory, r.WindowSeconds)
	}
	if r.BurstLimit < 0 {
		return fmt.Errorf("rule %s/%s: burst_limit must not be negative, got %d",
			r.Tier, r.EndpointCategory, r.BurstLimit)
	}
	if r.BurstLimit > 0 {
		if r.BurstWindowSeconds <= 0 {
			return fmt.Errorf("rule %s/%s: burst_window_seconds must be positive when burst_limit is set",
				r.Tier, r.EndpointCategory)
		}
		if r.BurstWindowSeconds >= r.WindowSeconds {
			return fmt.Errorf("rule %s/%s: burst window (%ds) must be shorter than main window (%ds)",
				r.Tier, r.EndpointCategory, r.BurstWindowSeconds, r.WindowSeconds)
		}
	}
	return nil
}

// Window returns the main counting window duration
func (r LimitRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// BurstWindow returns the burst guard window duration
func (r LimitRule) BurstWindow() time.Duration {
	return time.Duration(r.BurstWindowSeconds) * time.Second
}

// HasBurstGuard reports whether the rule carries a burst sub-window check
func (r LimitRule) HasBurstGuard() bool {
	return r.BurstLimit > 0
}

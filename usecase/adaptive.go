package usecase

import (
	"context"
	"math"

	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/pkg/logging"
)

// AdaptiveConfig tunes the behavior-score to multiplier mapping.
// Increment size and half-life live with the behavior store so every
// process decays scores identically.
type AdaptiveConfig struct {
	// MinMultiplier and MaxMultiplier bound the effective-limit
	// multiplier. Higher score maps monotonically to a lower multiplier.
	MinMultiplier float64 `mapstructure:"min_multiplier"`
	MaxMultiplier float64 `mapstructure:"max_multiplier"`

	// ScoreCeiling caps the behavior score. Must match the ceiling
	// enforced by the behavior store.
	ScoreCeiling float64 `mapstructure:"score_ceiling"`

	// IPMultiplierFloor bounds how far adaptive tightening can push
	// unauthenticated IP-scoped traffic, so one misbehaving shared-NAT
	// address cannot collapse legitimate traffic entirely.
	IPMultiplierFloor float64 `mapstructure:"ip_multiplier_floor"`
}

// DefaultAdaptiveConfig returns the deployment-tuning defaults
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinMultiplier:     0.25,
		MaxMultiplier:     1.0,
		ScoreCeiling:      10,
		IPMultiplierFloor: 0.5,
	}
}

// Validate checks the adaptive configuration at load time
func (c AdaptiveConfig) Validate() error {
	if c.MinMultiplier <= 0 || c.MaxMultiplier <= 0 {
		return entity.NewConfigurationError("adaptive multipliers must be positive", nil)
	}
	if c.MinMultiplier > c.MaxMultiplier {
		return entity.NewConfigurationError("adaptive min_multiplier exceeds max_multiplier", nil)
	}
	if c.ScoreCeiling <= 0 {
		return entity.NewConfigurationError("adaptive score_ceiling must be positive", nil)
	}
	if c.IPMultiplierFloor < c.MinMultiplier || c.IPMultiplierFloor > c.MaxMultiplier {
		return entity.NewConfigurationError("adaptive ip_multiplier_floor must lie within [min_multiplier, max_multiplier]", nil)
	}
	return nil
}

// AdaptiveAdjuster computes the effective-limit multiplier for an
// identity from its shared behavior score. The mapping is deterministic
// and monotonic, so independent processes reading the same score always
// agree without any extra coordination.
type AdaptiveAdjuster struct {
	behavior service.BehaviorStore
	config   AdaptiveConfig
	logger   *logging.Logger
}

// NewAdaptiveAdjuster creates a new adaptive adjuster
func NewAdaptiveAdjuster(behavior service.BehaviorStore, config AdaptiveConfig, logger *logging.Logger) *AdaptiveAdjuster {
	return &AdaptiveAdjuster{
		behavior: behavior,
		config:   config,
		logger:   logger.WithComponent("adaptive_adjuster"),
	}
}

// Multiplier returns the multiplier in [MinMultiplier, MaxMultiplier]
// applied to a rule's nominal limit for the given key. IP-scoped keys
// of unauthenticated callers are floor-bounded. A store failure reading
// the score degrades to the nominal limit rather than failing the check.
func (a *AdaptiveAdjuster) Multiplier(ctx context.Context, key entity.RateLimitKey, caller entity.CallerContext) float64 {
	identity := ScoredIdentity(key, caller)
	if identity == "" {
		return a.config.MaxMultiplier
	}

	score, err := a.behavior.Score(ctx, identity)
	if err != nil {
		a.logger.Warn("Behavior score read failed, applying nominal limit",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return a.config.MaxMultiplier
	}

	m := a.multiplierFromScore(score)
	if ipScoped(key.Scope) && !caller.Authenticated() && m < a.config.IPMultiplierFloor {
		m = a.config.IPMultiplierFloor
	}
	return m
}

// multiplierFromScore maps a score in [0, ceiling] linearly onto
// [MaxMultiplier, MinMultiplier]. Monotonic: a higher score never yields
// a higher multiplier.
func (a *AdaptiveAdjuster) multiplierFromScore(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > a.config.ScoreCeiling {
		score = a.config.ScoreCeiling
	}
	spread := a.config.MaxMultiplier - a.config.MinMultiplier
	return a.config.MaxMultiplier - spread*(score/a.config.ScoreCeiling)
}

// EffectiveLimit applies the multiplier to a nominal limit, never
// dropping below one admitted request per window.
func (a *AdaptiveAdjuster) EffectiveLimit(nominal int, multiplier float64) int64 {
	limit := int64(math.Round(float64(nominal) * multiplier))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// OnDeny records a violation against the identity behind the violated
// key. Scores only ever move on deny events; windows with zero denials
// decay the score toward zero via the store's half-life.
func (a *AdaptiveAdjuster) OnDeny(ctx context.Context, key entity.RateLimitKey, caller entity.CallerContext) {
	identity := ScoredIdentity(key, caller)
	if identity == "" {
		return
	}
	score, err := a.behavior.RecordViolation(ctx, identity)
	if err != nil {
		a.logger.Warn("Behavior score update failed",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("Recorded rate limit violation",
		zap.String("identity", identity),
		zap.Float64("score", score),
	)
}

// ScoredIdentity maps a violated key to the identity whose behavior
// score it charges: users and tenants directly, IP-scoped keys to the
// address itself so unauthenticated abusers accumulate history too.
func ScoredIdentity(key entity.RateLimitKey, caller entity.CallerContext) string {
	switch key.Scope {
	case entity.ScopeUser:
		return "user:" + key.Identity
	case entity.ScopeTenant:
		return "tenant:" + key.Identity
	case entity.ScopeEndpoint, entity.ScopeIP:
		if caller.Authenticated() {
			// Authenticated traffic is scored on its user/tenant keys;
			// charging the shared address would punish co-tenants.
			return ""
		}
		return "ip:" + key.Identity
	default:
		return ""
	}
}

func ipScoped(scope entity.Scope) bool {
	return scope == entity.ScopeIP || scope == entity.ScopeEndpoint
}

package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/pkg/logging"
)

// Fail policies applied when the shared store is unreachable
const (
	FailPolicyOpen   = "open"
	FailPolicyClosed = "closed"
)

// PipelineConfig tunes the decision pipeline
type PipelineConfig struct {
	// FailPolicy selects fail-open (admit with a logged warning) or
	// fail-closed (deny with a generic retry-after) when the store is
	// unreachable.
	FailPolicy string `mapstructure:"fail_policy"`

	// StoreTimeout bounds every shared store round trip. Short by
	// design; a timed-out call is "unknown" and resolves via FailPolicy.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// AnonymousTier is assigned to callers without a resolved identity.
	AnonymousTier entity.Tier `mapstructure:"anonymous_tier"`

	// DegradedRetryAfterSeconds is the generic retry-after attached to
	// fail-closed denials.
	DegradedRetryAfterSeconds int `mapstructure:"degraded_retry_after_seconds"`
}

// DefaultPipelineConfig returns the deployment defaults
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FailPolicy:                FailPolicyOpen,
		StoreTimeout:              25 * time.Millisecond,
		AnonymousTier:             entity.TierAnonymous,
		DegradedRetryAfterSeconds: 30,
	}
}

// Validate checks the pipeline configuration at load time
func (c PipelineConfig) Validate() error {
	if c.FailPolicy != FailPolicyOpen && c.FailPolicy != FailPolicyClosed {
		return entity.NewConfigurationError("fail_policy must be \"open\" or \"closed\"", nil)
	}
	if c.StoreTimeout <= 0 {
		return entity.NewConfigurationError("store_timeout must be positive", nil)
	}
	if c.DegradedRetryAfterSeconds < 1 {
		return entity.NewConfigurationError("degraded_retry_after_seconds must be at least 1", nil)
	}
	return nil
}

// Pipeline composes the key resolver, burst guard, counter engine and
// adaptive adjuster into the single admission decision point invoked by
// the edge of the domain layer. It never surfaces operational errors:
// store failures resolve to a degraded Decision via the fail policy.
type Pipeline struct {
	resolver  *KeyResolver
	engine    *CounterEngine
	burst     *BurstGuard
	adaptive  *AdaptiveAdjuster
	rules     service.RuleProvider
	overrides service.OverrideStore
	events    service.EventPublisher
	metrics   *monitoring.Collector
	logger    *logging.Logger
	config    PipelineConfig
}

// NewPipeline creates a new decision pipeline
func NewPipeline(
	resolver *KeyResolver,
	engine *CounterEngine,
	burst *BurstGuard,
	adaptive *AdaptiveAdjuster,
	rules service.RuleProvider,
	overrides service.OverrideStore,
	events service.EventPublisher,
	metrics *monitoring.Collector,
	logger *logging.Logger,
	config PipelineConfig,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		engine:    engine,
		burst:     burst,
		adaptive:  adaptive,
		rules:     rules,
		overrides: overrides,
		events:    events,
		metrics:   metrics,
		logger:    logger.WithComponent("decision_pipeline"),
		config:    config,
	}
}

// Check evaluates one request. Keys are checked in resolver order, burst
// guard before main window for each key, and the first violation denies
// with that key's scope. Counting is never skipped on upstream
// cancellation: every store call runs on a cancellation-detached context
// with its own short timeout, so a disconnect-and-retry caller still
// consumes quota.
func (p *Pipeline) Check(ctx context.Context, caller entity.CallerContext, endpointCategory string) entity.Decision {
	started := time.Now()
	category := NormalizeCategory(endpointCategory)

	tier := p.resolveTier(ctx, caller)
	caller.Tier = tier

	keys := p.resolver.Resolve(caller, category)

	// Most restrictive main-window check seen so far, for quota headers.
	var (
		tracked     bool
		restrictive WindowCheck
	)

	for _, key := range keys {
		rule := p.rules.Resolve(tier, key.EndpointCategory)

		if rule.HasBurstGuard() {
			check, err := p.checkBurst(ctx, key, rule)
			if err != nil {
				return p.failPolicy(caller, category, rule, started)
			}
			if !check.Allowed {
				return p.deny(ctx, caller, category, key, check, started)
			}
		}

		effective := int64(rule.RequestsPerWindow)
		if rule.AdaptiveEnabled {
			sctx, cancel := p.storeContext(ctx)
			m := p.adaptive.Multiplier(sctx, key, caller)
			cancel()
			effective = p.adaptive.EffectiveLimit(rule.RequestsPerWindow, m)
		}

		check, err := p.checkWindow(ctx, key, rule, effective)
		if err != nil {
			return p.failPolicy(caller, category, rule, started)
		}
		if !check.Allowed {
			return p.deny(ctx, caller, category, key, check, started)
		}

		if !tracked || check.Remaining < restrictive.Remaining {
			tracked = true
			restrictive = check
		}
	}

	decision := entity.Decision{
		Admitted:  true,
		Limit:     int(restrictive.Limit),
		Remaining: int(restrictive.Remaining),
		ResetAt:   restrictive.ResetAt,
	}

	p.metrics.ObserveDecision("admitted", "", time.Since(started))
	return decision
}

func (p *Pipeline) checkBurst(ctx context.Context, key entity.RateLimitKey, rule entity.LimitRule) (WindowCheck, error) {
	sctx, cancel := p.storeContext(ctx)
	defer cancel()

	started := time.Now()
	check, err := p.burst.Check(sctx, key.String(), rule.BurstWindow(), int64(rule.BurstLimit))
	p.metrics.StoreCallDuration.WithLabelValues("burst_increment").Observe(time.Since(started).Seconds())
	if err != nil {
		p.metrics.ObserveStoreError("burst_increment")
	}
	return check, err
}

func (p *Pipeline) checkWindow(ctx context.Context, key entity.RateLimitKey, rule entity.LimitRule, effective int64) (WindowCheck, error) {
	sctx, cancel := p.storeContext(ctx)
	defer cancel()

	started := time.Now()
	check, err := p.engine.Check(sctx, key.String(), rule.Window(), effective)
	p.metrics.StoreCallDuration.WithLabelValues("window_increment").Observe(time.Since(started).Seconds())
	if err != nil {
		p.metrics.ObserveStoreError("window_increment")
	}
	return check, err
}

// resolveTier applies any live tier override for the caller's user or
// tenant identity, falling back to the resolved tier, then the
// anonymous tier for identity-less callers. Override lookup failures
// degrade silently to the resolved tier.
func (p *Pipeline) resolveTier(ctx context.Context, caller entity.CallerContext) entity.Tier {
	tier := caller.Tier
	if tier == "" {
		tier = p.config.AnonymousTier
	}
	if !caller.Authenticated() {
		return p.config.AnonymousTier
	}

	sctx, cancel := p.storeContext(ctx)
	defer cancel()

	for _, identity := range overrideIdentities(caller) {
		override, err := p.overrides.GetOverride(sctx, identity)
		if err != nil {
			p.logger.Debug("Tier override lookup failed",
				zap.String("identity", identity),
				zap.Error(err),
			)
			return tier
		}
		if override != nil && !override.Expired(time.Now()) {
			return override.Tier
		}
	}
	return tier
}

func overrideIdentities(caller entity.CallerContext) []string {
	identities := make([]string, 0, 2)
	if caller.UserID != "" {
		identities = append(identities, "user:"+caller.UserID)
	}
	if caller.TenantID != "" {
		identities = append(identities, "tenant:"+caller.TenantID)
	}
	return identities
}

func (p *Pipeline) deny(ctx context.Context, caller entity.CallerContext, category string, key entity.RateLimitKey, check WindowCheck, started time.Time) entity.Decision {
	decision := entity.Decision{
		Admitted:          false,
		ViolatedScope:     key.Scope,
		Limit:             int(check.Limit),
		Remaining:         0,
		ResetAt:           check.ResetAt,
		RetryAfterSeconds: RetryAfterSeconds(check.RetryAfter),
	}

	// Denials feed the behavior score; the increment runs detached so a
	// disconnecting caller cannot dodge the penalty.
	sctx, cancel := p.storeContext(ctx)
	defer cancel()
	p.adaptive.OnDeny(sctx, key, caller)

	p.events.PublishDenyEvent(sctx, caller, decision, category)

	p.logger.Info("Request denied by rate limit",
		zap.String("scope", string(key.Scope)),
		zap.String("key", key.String()),
		zap.String("category", category),
		zap.String("tier", string(caller.Tier)),
		zap.Int64("limit", check.Limit),
		zap.Float64("estimate", check.Estimate),
		zap.Int("retry_after_seconds", decision.RetryAfterSeconds),
	)

	p.metrics.ObserveDecision("denied", string(key.Scope), time.Since(started))
	return decision
}

// failPolicy resolves a decision when the shared store is unreachable.
// Never an error to the caller: fail-open admits with a logged warning
// and no remaining precision guarantee, fail-closed denies with a
// generic retry-after.
func (p *Pipeline) failPolicy(caller entity.CallerContext, category string, rule entity.LimitRule, started time.Time) entity.Decision {
	if p.config.FailPolicy == FailPolicyClosed {
		p.logger.Warn("Store unavailable, failing closed",
			zap.String("category", category),
			zap.String("tier", string(caller.Tier)),
		)
		p.metrics.DegradedTotal.WithLabelValues(FailPolicyClosed).Inc()
		p.metrics.ObserveDecision("denied", "", time.Since(started))
		return entity.Decision{
			Admitted:          false,
			Limit:             rule.RequestsPerWindow,
			Remaining:         0,
			ResetAt:           time.Now().Add(rule.Window()),
			RetryAfterSeconds: p.config.DegradedRetryAfterSeconds,
			Degraded:          true,
		}
	}

	p.logger.Warn("Store unavailable, failing open",
		zap.String("category", category),
		zap.String("tier", string(caller.Tier)),
	)
	p.metrics.DegradedTotal.WithLabelValues(FailPolicyOpen).Inc()
	p.metrics.ObserveDecision("admitted", "", time.Since(started))
	return entity.Decision{
		Admitted:  true,
		Limit:     rule.RequestsPerWindow,
		Remaining: rule.RequestsPerWindow,
		ResetAt:   time.Now().Add(rule.Window()),
		Degraded:  true,
	}
}

// storeContext detaches the request context from upstream cancellation
// and applies the store timeout. The increment must complete even when
// the caller disconnects, or the limiter becomes bypassable by
// disconnect-and-retry.
func (p *Pipeline) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.config.StoreTimeout)
}

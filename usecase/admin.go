package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/pkg/logging"
)

// AdminConfig tunes the administrative control surface
type AdminConfig struct {
	// OperationsPerSecond and OperationBurst gate mutating admin calls
	// per operator. Strict and non-adaptive, so the control surface
	// cannot become an abuse vector via reset loops.
	OperationsPerSecond float64 `mapstructure:"operations_per_second"`
	OperationBurst      int     `mapstructure:"operation_burst"`

	// DefaultTier is assumed for identities whose tier the caller did
	// not supply and that carry no override.
	DefaultTier entity.Tier `mapstructure:"default_tier"`

	// OverrideMaxTTL caps how long a manual tier override may live.
	OverrideMaxTTL time.Duration `mapstructure:"override_max_ttl"`
}

// DefaultAdminConfig returns the deployment defaults
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		OperationsPerSecond: 1,
		OperationBurst:      5,
		DefaultTier:         entity.TierFree,
		OverrideMaxTTL:      24 * time.Hour,
	}
}

// Operator identifies the authenticated caller of an administrative
// operation, for auditing and the per-operator limiter.
type Operator struct {
	ID        string
	Roles     []string
	SourceIP  string
	RequestID string
}

// EffectiveLimitInfo is the read-only resolution of an identity's
// current limit, including the adaptive multiplier and any override.
type EffectiveLimitInfo struct {
	Identity         string               `json:"identity"`
	EndpointCategory string               `json:"endpoint_category"`
	Tier             entity.Tier          `json:"tier"`
	NominalLimit     int                  `json:"nominal_limit"`
	WindowSeconds    int                  `json:"window_seconds"`
	AdaptiveEnabled  bool                 `json:"adaptive_enabled"`
	BehaviorScore    float64              `json:"behavior_score"`
	Multiplier       float64              `json:"multiplier"`
	EffectiveLimit   int64                `json:"effective_limit"`
	Override         *entity.TierOverride `json:"override,omitempty"`
}

// UsageInfo is the current consumption of one identity/category counter
type UsageInfo struct {
	Identity         string    `json:"identity"`
	EndpointCategory string    `json:"endpoint_category"`
	Count            int64     `json:"count"`
	Estimate         float64   `json:"estimate"`
	Limit            int64     `json:"limit"`
	Remaining        int64     `json:"remaining"`
	ResetAt          time.Time `json:"reset_at"`
}

// AdminService implements the administrative control API over live
// counters and configuration. All mutating operations are audited and
// gated by a strict per-operator limiter.
type AdminService struct {
	rules     service.RuleProvider
	engine    *CounterEngine
	adaptive  *AdaptiveAdjuster
	counters  service.CounterStore
	behavior  service.BehaviorStore
	overrides service.OverrideStore
	audit     service.AuditRepository
	events    service.EventPublisher
	metrics   *monitoring.Collector
	logger    *logging.Logger
	config    AdminConfig

	mu         sync.Mutex
	opLimiters map[string]*rate.Limiter
}

// NewAdminService creates a new administrative service
func NewAdminService(
	rules service.RuleProvider,
	engine *CounterEngine,
	adaptive *AdaptiveAdjuster,
	counters service.CounterStore,
	behavior service.BehaviorStore,
	overrides service.OverrideStore,
	audit service.AuditRepository,
	events service.EventPublisher,
	metrics *monitoring.Collector,
	logger *logging.Logger,
	config AdminConfig,
) *AdminService {
	return &AdminService{
		rules:      rules,
		engine:     engine,
		adaptive:   adaptive,
		counters:   counters,
		behavior:   behavior,
		overrides:  overrides,
		audit:      audit,
		events:     events,
		metrics:    metrics,
		logger:     logger.WithComponent("admin_service"),
		config:     config,
		opLimiters: make(map[string]*rate.Limiter),
	}
}

// ConfigSnapshot returns the active limit rule table
func (s *AdminService) ConfigSnapshot() []entity.LimitRule {
	return s.rules.Snapshot()
}

// RuleVersion returns the version of the active rule snapshot
func (s *AdminService) RuleVersion() int64 {
	return s.rules.Version()
}

// EffectiveLimit resolves the tier, adaptive multiplier and effective
// limit for an identity and category. Read-only.
func (s *AdminService) EffectiveLimit(ctx context.Context, identity entity.Identity, category string, tierHint entity.Tier) (*EffectiveLimitInfo, error) {
	category = NormalizeCategory(category)

	tier, override, err := s.resolveTier(ctx, identity, tierHint)
	if err != nil {
		return nil, err
	}

	rule := s.rules.Resolve(tier, category)

	score, err := s.behavior.Score(ctx, identity.String())
	if err != nil {
		return nil, entity.NewStoreUnavailableError(err)
	}
	s.metrics.BehaviorScores.Observe(score)

	multiplier := s.adaptive.multiplierFromScore(score)
	if !rule.AdaptiveEnabled {
		multiplier = s.adaptive.config.MaxMultiplier
	}

	return &EffectiveLimitInfo{
		Identity:         identity.String(),
		EndpointCategory: category,
		Tier:             tier,
		NominalLimit:     rule.RequestsPerWindow,
		WindowSeconds:    rule.WindowSeconds,
		AdaptiveEnabled:  rule.AdaptiveEnabled,
		BehaviorScore:    score,
		Multiplier:       multiplier,
		EffectiveLimit:   s.adaptive.EffectiveLimit(rule.RequestsPerWindow, multiplier),
		Override:         override,
	}, nil
}

// Usage reports the current window consumption for an identity and
// category without consuming quota.
func (s *AdminService) Usage(ctx context.Context, identity entity.Identity, category string, tierHint entity.Tier) (*UsageInfo, error) {
	info, err := s.EffectiveLimit(ctx, identity, category, tierHint)
	if err != nil {
		return nil, err
	}

	rule := s.rules.Resolve(info.Tier, info.EndpointCategory)
	key := counterKey(identity, info.EndpointCategory)

	check, err := s.engine.Usage(ctx, key.String(), rule.Window(), info.EffectiveLimit)
	if err != nil {
		return nil, err
	}

	return &UsageInfo{
		Identity:         identity.String(),
		EndpointCategory: info.EndpointCategory,
		Count:            check.Count,
		Estimate:         check.Estimate,
		Limit:            check.Limit,
		Remaining:        check.Remaining,
		ResetAt:          check.ResetAt,
	}, nil
}

// ResetCounters clears the window counters (main and burst) and the
// behavior score for an identity. Used for support escalations; the
// next request is admitted at the full nominal limit.
func (s *AdminService) ResetCounters(ctx context.Context, actor Operator, identity entity.Identity, category string, tierHint entity.Tier) error {
	if err := s.allowMutation(actor); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionResetCounters, "throttled")
		return err
	}
	category = NormalizeCategory(category)

	tier, _, err := s.resolveTier(ctx, identity, tierHint)
	if err != nil {
		return err
	}
	rule := s.rules.Resolve(tier, category)

	keys := resetKeys(identity, category)
	if err := s.counters.ResetWindows(ctx, rule.Window(), keys...); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionResetCounters, "error")
		return entity.NewStoreUnavailableError(err)
	}
	if rule.HasBurstGuard() {
		burstKeys := make([]string, 0, len(keys))
		for _, k := range keys {
			burstKeys = append(burstKeys, BurstKeyPrefix+k)
		}
		if err := s.counters.ResetWindows(ctx, rule.BurstWindow(), burstKeys...); err != nil {
			s.metrics.ObserveAdminOperation(entity.AuditActionResetCounters, "error")
			return entity.NewStoreUnavailableError(err)
		}
	}
	if err := s.behavior.ResetScore(ctx, identity.String()); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionResetCounters, "error")
		return entity.NewStoreUnavailableError(err)
	}

	s.metrics.ObserveAdminOperation(entity.AuditActionResetCounters, "ok")
	s.recordAudit(ctx, actor, entity.AuditActionResetCounters, identity.String(), category, map[string]interface{}{
		"tier": string(tier),
	})
	return nil
}

// SetTierOverride installs a temporary manual tier override for an
// identity, independent of the adaptive adjuster.
func (s *AdminService) SetTierOverride(ctx context.Context, actor Operator, identity entity.Identity, tier entity.Tier, ttl time.Duration, reason string) (*entity.TierOverride, error) {
	if err := s.allowMutation(actor); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionSetOverride, "throttled")
		return nil, err
	}
	if tier == "" {
		return nil, entity.NewAppError(entity.ErrCodeInvalidInput, "override tier is required")
	}
	if ttl <= 0 {
		return nil, entity.NewAppError(entity.ErrCodeInvalidInput, "override ttl must be positive")
	}
	if ttl > s.config.OverrideMaxTTL {
		ttl = s.config.OverrideMaxTTL
	}

	now := time.Now().UTC()
	override := entity.TierOverride{
		Identity:  identity.String(),
		Tier:      tier,
		SetBy:     actor.ID,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.overrides.SetOverride(ctx, override, ttl); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionSetOverride, "error")
		return nil, entity.NewStoreUnavailableError(err)
	}

	s.metrics.ObserveAdminOperation(entity.AuditActionSetOverride, "ok")
	s.recordAudit(ctx, actor, entity.AuditActionSetOverride, identity.String(), "", map[string]interface{}{
		"tier":       string(tier),
		"ttl":        ttl.String(),
		"expires_at": override.ExpiresAt,
		"reason":     reason,
	})
	return &override, nil
}

// ClearTierOverride removes a manual tier override
func (s *AdminService) ClearTierOverride(ctx context.Context, actor Operator, identity entity.Identity) error {
	if err := s.allowMutation(actor); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionClearOverride, "throttled")
		return err
	}
	if err := s.overrides.DeleteOverride(ctx, identity.String()); err != nil {
		s.metrics.ObserveAdminOperation(entity.AuditActionClearOverride, "error")
		return entity.NewStoreUnavailableError(err)
	}
	s.metrics.ObserveAdminOperation(entity.AuditActionClearOverride, "ok")
	s.recordAudit(ctx, actor, entity.AuditActionClearOverride, identity.String(), "", nil)
	return nil
}

// allowMutation applies the strict non-adaptive per-operator limiter
func (s *AdminService) allowMutation(actor Operator) error {
	s.mu.Lock()
	limiter, ok := s.opLimiters[actor.ID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.OperationsPerSecond), s.config.OperationBurst)
		s.opLimiters[actor.ID] = limiter
	}
	s.mu.Unlock()

	if !limiter.Allow() {
		return entity.NewAppError(entity.ErrCodeRateLimited, "administrative operation rate limit exceeded")
	}
	return nil
}

// resolveTier picks the identity's tier: live override first, then the
// caller-supplied hint, then the configured default.
func (s *AdminService) resolveTier(ctx context.Context, identity entity.Identity, hint entity.Tier) (entity.Tier, *entity.TierOverride, error) {
	override, err := s.overrides.GetOverride(ctx, identity.String())
	if err != nil {
		return "", nil, entity.NewStoreUnavailableError(err)
	}
	if override != nil && !override.Expired(time.Now()) {
		return override.Tier, override, nil
	}
	if hint != "" {
		return hint, nil, nil
	}
	if identity.Scope == entity.ScopeIP {
		return entity.TierAnonymous, nil, nil
	}
	return s.config.DefaultTier, nil, nil
}

func (s *AdminService) recordAudit(ctx context.Context, actor Operator, action, target, category string, details map[string]interface{}) {
	record := &entity.AuditRecord{
		ID:             uuid.New().String(),
		Actor:          actor.ID,
		Action:         action,
		TargetIdentity: target,
		Category:       category,
		RequestID:      actor.RequestID,
		SourceIP:       actor.SourceIP,
		Details:        details,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.audit.LogAdminEvent(ctx, record); err != nil {
		s.logger.Error("Failed to persist admin audit record",
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err),
		)
	}
	s.events.PublishAdminEvent(ctx, record)

	s.logger.LogAuditEvent(actor.ID, action, target,
		zap.String("request_id", actor.RequestID),
		zap.String("source_ip", actor.SourceIP),
	)
}

// counterKey maps an admin identity to its main counter key
func counterKey(identity entity.Identity, category string) entity.RateLimitKey {
	scope := identity.Scope
	if scope == entity.ScopeIP {
		scope = entity.ScopeEndpoint
	}
	return entity.RateLimitKey{Scope: scope, Identity: identity.ID, EndpointCategory: category}
}

// resetKeys lists every counter key an administrative reset clears for
// an identity and category. IP identities also clear their global key.
func resetKeys(identity entity.Identity, category string) []string {
	keys := []string{counterKey(identity, category).String()}
	if identity.Scope == entity.ScopeIP {
		global := entity.RateLimitKey{
			Scope:            entity.ScopeIP,
			Identity:         identity.ID,
			EndpointCategory: entity.CategoryGlobal,
		}
		keys = append(keys, global.String())
	}
	return keys
}

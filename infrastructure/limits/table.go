// Package limits holds the limit configuration table: the static,
// hot-reloadable mapping from (tier, endpoint category) to limit
// parameters.
package limits

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/pkg/logging"
)

// fallbackRule is applied when the table carries no rule at all for a
// lookup, so request processing never sees a missing rule. Deliberately
// conservative.
var fallbackRule = entity.LimitRule{
	Tier:              entity.TierDefault,
	EndpointCategory:  entity.CategoryDefault,
	RequestsPerWindow: 60,
	WindowSeconds:     60,
	AdaptiveEnabled:   true,
}

// table is one immutable snapshot. Never mutated after construction;
// the provider swaps whole snapshots atomically.
type table struct {
	rules   map[entity.Tier]map[string]entity.LimitRule
	version int64
}

func (t *table) resolve(tier entity.Tier, category string) (entity.LimitRule, bool) {
	if byCategory, ok := t.rules[tier]; ok {
		if rule, ok := byCategory[category]; ok {
			return rule, true
		}
		if rule, ok := byCategory[entity.CategoryDefault]; ok {
			return rule, true
		}
	}
	if byCategory, ok := t.rules[entity.TierDefault]; ok {
		if rule, ok := byCategory[category]; ok {
			return rule, true
		}
		if rule, ok := byCategory[entity.CategoryDefault]; ok {
			return rule, true
		}
	}
	return entity.LimitRule{}, false
}

// Provider serves the active rule snapshot to in-flight requests and
// swaps in validated replacements on hot reload. Loading never mutates
// the live table: a new snapshot is built and validated fully, then the
// pointer is swapped; on any validation failure the previous snapshot
// is retained.
type Provider struct {
	current atomic.Pointer[table]
	version atomic.Int64
	logger  *logging.Logger
}

// NewProvider creates a provider with the given initial rules
func NewProvider(rules []entity.LimitRule, logger *logging.Logger) (*Provider, error) {
	p := &Provider{logger: logger.WithComponent("limit_table")}
	if err := p.Load(rules); err != nil {
		return nil, err
	}
	return p, nil
}

// Load validates and atomically installs a new rule snapshot. Returns a
// ConfigurationError and leaves the active snapshot untouched when any
// entry is invalid.
func (p *Provider) Load(rules []entity.LimitRule) error {
	if len(rules) == 0 {
		return entity.NewConfigurationError("limit rule table must not be empty", nil)
	}

	next := &table{rules: make(map[entity.Tier]map[string]entity.LimitRule, len(rules))}
	for i := range rules {
		rule := rules[i]
		if err := rule.Validate(); err != nil {
			return entity.NewConfigurationError("invalid limit rule", err)
		}
		byCategory, ok := next.rules[rule.Tier]
		if !ok {
			byCategory = make(map[string]entity.LimitRule)
			next.rules[rule.Tier] = byCategory
		}
		if _, dup := byCategory[rule.EndpointCategory]; dup {
			return entity.NewConfigurationError(
				"duplicate limit rule for "+string(rule.Tier)+"/"+rule.EndpointCategory, nil)
		}
		byCategory[rule.EndpointCategory] = rule
	}

	next.version = p.version.Add(1)
	p.current.Store(next)

	p.logger.Info("Limit rule table loaded",
		zap.Int("rules", len(rules)),
		zap.Int64("version", next.version),
	)
	return nil
}

// Resolve returns the active rule for a tier and category, falling back
// tier-default, then the wildcard tier, then the built-in fallback.
func (p *Provider) Resolve(tier entity.Tier, category string) entity.LimitRule {
	if rule, ok := p.current.Load().resolve(tier, category); ok {
		return rule
	}
	return fallbackRule
}

// Snapshot returns the active rules in deterministic order
func (p *Provider) Snapshot() []entity.LimitRule {
	t := p.current.Load()
	out := make([]entity.LimitRule, 0, 16)
	for _, byCategory := range t.rules {
		for _, rule := range byCategory {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].EndpointCategory < out[j].EndpointCategory
	})
	return out
}

// Version returns the version of the active snapshot
func (p *Provider) Version() int64 {
	return p.current.Load().version
}

package usecase

import (
	"strings"

	"isectech/ratelimit-service/domain/entity"
)

// KeyResolver derives the ordered list of rate-limit keys for a request
// from its resolved caller context and endpoint category. Pure function
// of its input; no side effects.
//
// The order is most specific first: the decision pipeline evaluates in
// this order and the first violated key determines the reported scope,
// so operators always see the most specific cause.
type KeyResolver struct{}

// NewKeyResolver creates a new key resolver
func NewKeyResolver() *KeyResolver {
	return &KeyResolver{}
}

// Resolve produces the keys to check for one request:
//
//	user:{userId}:{category}      (authenticated users)
//	tenant:{tenantId}:{category}  (tenant-scoped callers)
//	endpoint:{ip}:{category}      (per-category IP pressure)
//	ip:{ip}:global                (global per-IP ceiling)
//
// Incomplete caller context downgrades gracefully to the IP-scoped keys;
// an unauthenticated request is never rejected for missing identity.
func (r *KeyResolver) Resolve(caller entity.CallerContext, endpointCategory string) []entity.RateLimitKey {
	category := NormalizeCategory(endpointCategory)
	ip := caller.IP
	if ip == "" {
		ip = "unknown"
	}

	keys := make([]entity.RateLimitKey, 0, 4)

	if caller.UserID != "" {
		keys = append(keys, entity.RateLimitKey{
			Scope:            entity.ScopeUser,
			Identity:         caller.UserID,
			EndpointCategory: category,
		})
	}
	if caller.TenantID != "" {
		keys = append(keys, entity.RateLimitKey{
			Scope:            entity.ScopeTenant,
			Identity:         caller.TenantID,
			EndpointCategory: category,
		})
	}

	keys = append(keys,
		entity.RateLimitKey{
			Scope:            entity.ScopeEndpoint,
			Identity:         ip,
			EndpointCategory: category,
		},
		entity.RateLimitKey{
			Scope:            entity.ScopeIP,
			Identity:         ip,
			EndpointCategory: entity.CategoryGlobal,
		},
	)

	return keys
}

// NormalizeCategory lowercases and trims an endpoint category label,
// falling back to the default category for empty input.
func NormalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return entity.CategoryDefault
	}
	return category
}

package entity

import (
	"fmt"
	"strings"
)

// CallerContext is the already-resolved identity of an inbound request.
// The platform's auth layer resolves it before invoking the limiter;
// the limiter never authenticates callers itself.
type CallerContext struct {
	IP       string `json:"ip"`
	UserID   string `json:"user_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Tier     Tier   `json:"tier"`
}

// Authenticated reports whether the caller carries a resolved user or
// tenant identity. Unauthenticated callers are limited on IP scope only.
func (c CallerContext) Authenticated() bool {
	return c.UserID != "" || c.TenantID != ""
}

// RateLimitKey identifies one counter. Keys are the unit of counting;
// a single request may be checked against several keys.
type RateLimitKey struct {
	Scope            Scope  `json:"scope"`
	Identity         string `json:"identity"`
	EndpointCategory string `json:"endpoint_category"`
}

// String renders the deterministic store key: {scope}:{identity}:{category}
func (k RateLimitKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.Identity, k.EndpointCategory)
}

// Identity names a user, tenant or IP as the target of administrative
// operations, serialized as "{scope}:{id}".
type Identity struct {
	Scope Scope  `json:"scope"`
	ID    string `json:"id"`
}

// String renders the identity in its wire form
func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Scope, i.ID)
}

// ParseIdentity parses the "{scope}:{id}" wire form used by the
// administrative API. A bare id without scope defaults to user scope.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, fmt.Errorf("identity is required")
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 1 {
		return Identity{Scope: ScopeUser, ID: parts[0]}, nil
	}

	scope := Scope(parts[0])
	switch scope {
	case ScopeIP, ScopeUser, ScopeTenant:
	default:
		return Identity{}, fmt.Errorf("unknown identity scope %q", parts[0])
	}
	if parts[1] == "" {
		return Identity{}, fmt.Errorf("identity id is required")
	}

	return Identity{Scope: scope, ID: parts[1]}, nil
}

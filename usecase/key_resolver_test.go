package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isectech/ratelimit-service/domain/entity"
)

func TestKeyResolverAuthenticatedOrder(t *testing.T) {
	resolver := NewKeyResolver()

	keys := resolver.Resolve(entity.CallerContext{
		IP:       "203.0.113.7",
		UserID:   "u-42",
		TenantID: "t-9",
	}, "search")

	require.Len(t, keys, 4)
	assert.Equal(t, "user:u-42:search", keys[0].String())
	assert.Equal(t, "tenant:t-9:search", keys[1].String())
	assert.Equal(t, "endpoint:203.0.113.7:search", keys[2].String())
	assert.Equal(t, "ip:203.0.113.7:global", keys[3].String())
}

func TestKeyResolverUnauthenticated(t *testing.T) {
	resolver := NewKeyResolver()

	keys := resolver.Resolve(entity.CallerContext{IP: "203.0.113.7"}, "search")

	require.Len(t, keys, 2)
	assert.Equal(t, entity.ScopeEndpoint, keys[0].Scope)
	assert.Equal(t, entity.ScopeIP, keys[1].Scope)
}

func TestKeyResolverPartialContext(t *testing.T) {
	resolver := NewKeyResolver()

	// user without tenant still gets a user key, never an error
	keys := resolver.Resolve(entity.CallerContext{
		IP:     "203.0.113.7",
		UserID: "u-42",
	}, "")

	require.Len(t, keys, 3)
	assert.Equal(t, "user:u-42:default", keys[0].String())

	// missing IP falls back to a sentinel rather than dropping IP keys
	keys = resolver.Resolve(entity.CallerContext{}, "")
	require.Len(t, keys, 2)
	assert.Equal(t, "endpoint:unknown:default", keys[0].String())
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "default", NormalizeCategory(""))
	assert.Equal(t, "default", NormalizeCategory("   "))
	assert.Equal(t, "search", NormalizeCategory(" Search "))
	assert.Equal(t, "auth", NormalizeCategory("AUTH"))
}

package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() LimitRule {
	return LimitRule{
		Tier:               TierFree,
		EndpointCategory:   CategoryDefault,
		RequestsPerWindow:  60,
		WindowSeconds:      60,
		BurstLimit:         20,
		BurstWindowSeconds: 1,
		AdaptiveEnabled:    true,
	}
}

func TestLimitRuleValidate(t *testing.T) {
	rule := validRule()
	require.NoError(t, rule.Validate())

	rule = validRule()
	rule.Tier = ""
	assert.Error(t, rule.Validate())

	rule = validRule()
	rule.EndpointCategory = ""
	assert.Error(t, rule.Validate())

	rule = validRule()
	rule.RequestsPerWindow = 0
	assert.Error(t, rule.Validate())

	rule = validRule()
	rule.WindowSeconds = -1
	assert.Error(t, rule.Validate())

	rule = validRule()
	rule.BurstLimit = -1
	assert.Error(t, rule.Validate())
}

func TestLimitRuleBurstWindowConstraints(t *testing.T) {
	rule := validRule()
	rule.BurstWindowSeconds = 0
	assert.Error(t, rule.Validate(), "burst limit without burst window")

	rule = validRule()
	rule.BurstWindowSeconds = rule.WindowSeconds
	assert.Error(t, rule.Validate(), "burst window must be shorter than main window")

	rule = validRule()
	rule.BurstLimit = 0
	rule.BurstWindowSeconds = 0
	assert.NoError(t, rule.Validate(), "no burst guard needs no burst window")
}

func TestLimitRuleWindows(t *testing.T) {
	rule := validRule()

	assert.Equal(t, time.Minute, rule.Window())
	assert.Equal(t, time.Second, rule.BurstWindow())
	assert.True(t, rule.HasBurstGuard())

	rule.BurstLimit = 0
	assert.False(t, rule.HasBurstGuard())
}

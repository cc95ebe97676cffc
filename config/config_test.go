package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/usecase"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	config, err := NewLoader().Load()
	require.NoError(t, err)
	return config
}

func TestLoadDefaults(t *testing.T) {
	config := loadDefaults(t)

	assert.Equal(t, "ratelimit-service", config.Service.Name)
	assert.Equal(t, "development", config.Service.Environment)
	assert.False(t, config.IsProduction())

	assert.Equal(t, 8080, config.HTTP.Port)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 100*time.Millisecond, config.Redis.ReadTimeout)

	assert.Equal(t, usecase.FailPolicyOpen, config.Pipeline.FailPolicy)
	assert.Equal(t, 25*time.Millisecond, config.Pipeline.StoreTimeout)
	assert.Equal(t, entity.TierAnonymous, config.Pipeline.AnonymousTier)

	assert.Equal(t, 0.25, config.Adaptive.MinMultiplier)
	assert.Equal(t, 0.5, config.Adaptive.IPMultiplierFloor)
	assert.Equal(t, 10*time.Minute, config.Behavior.HalfLife)

	assert.False(t, config.Database.Enabled)
	assert.False(t, config.Kafka.Enabled)
	assert.Equal(t, 24*time.Hour, config.Admin.OverrideMaxTTL)
}

func TestLoadDefaultRules(t *testing.T) {
	config := loadDefaults(t)

	require.Len(t, config.Rules, 5)

	tiers := make(map[entity.Tier]entity.LimitRule, len(config.Rules))
	for _, rule := range config.Rules {
		require.NoError(t, rule.Validate())
		tiers[rule.Tier] = rule
	}

	pro, ok := tiers[entity.TierPro]
	require.True(t, ok)
	assert.Equal(t, 600, pro.RequestsPerWindow)
	assert.True(t, pro.HasBurstGuard())

	fallback, ok := tiers[entity.TierDefault]
	require.True(t, ok)
	assert.False(t, fallback.HasBurstGuard())
}

func TestValidateRejectsBadPort(t *testing.T) {
	config := loadDefaults(t)
	config.HTTP.Port = 0

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http port")
}

func TestValidateRejectsMissingRedisAddr(t *testing.T) {
	config := loadDefaults(t)
	config.Redis.Addr = ""

	assert.Error(t, config.Validate())
}

func TestValidateRejectsBadFailPolicy(t *testing.T) {
	config := loadDefaults(t)
	config.Pipeline.FailPolicy = "explode"

	assert.Error(t, config.Validate())
}

func TestValidateRejectsEmptyRules(t *testing.T) {
	config := loadDefaults(t)
	config.Rules = nil

	assert.Error(t, config.Validate())
}

func TestValidateRejectsInvalidRule(t *testing.T) {
	config := loadDefaults(t)
	config.Rules[0].RequestsPerWindow = 0

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 0")
}

func TestValidateConditionalBackends(t *testing.T) {
	config := loadDefaults(t)
	config.Database.Enabled = true
	config.Database.Host = ""
	assert.Error(t, config.Validate())

	config = loadDefaults(t)
	config.Kafka.Enabled = true
	config.Kafka.Brokers = nil
	assert.Error(t, config.Validate())
}

func TestValidateRejectsBehaviorSettings(t *testing.T) {
	config := loadDefaults(t)
	config.Behavior.HalfLife = 0

	assert.Error(t, config.Validate())
}

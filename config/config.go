package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"isectech/ratelimit-service/delivery/http"
	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/infrastructure/database/postgres"
	"isectech/ratelimit-service/infrastructure/messaging"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

// Config holds all configuration for the rate limit service
type Config struct {
	Service  ServiceConfig          `mapstructure:"service"`
	HTTP     http.RouterConfig      `mapstructure:"http"`
	Redis    RedisConfig            `mapstructure:"redis"`
	Database DatabaseConfig         `mapstructure:"database"`
	Kafka    KafkaConfig            `mapstructure:"kafka"`
	Pipeline usecase.PipelineConfig `mapstructure:"pipeline"`
	Adaptive usecase.AdaptiveConfig `mapstructure:"adaptive"`
	Behavior BehaviorConfig         `mapstructure:"behavior"`
	Admin    usecase.AdminConfig    `mapstructure:"admin"`
	Auth     AdminAuthConfig        `mapstructure:"auth"`
	Logging  logging.Config         `mapstructure:"logging"`
	Rules    []entity.LimitRule     `mapstructure:"rules"`
}

// ServiceConfig contains general service configuration
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig contains shared counter store configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// DatabaseConfig wraps the audit database settings with an enable flag
type DatabaseConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	postgres.DatabaseConfig `mapstructure:",squash"`
}

// KafkaConfig wraps the event stream settings with an enable flag
type KafkaConfig struct {
	Enabled                        bool `mapstructure:"enabled"`
	messaging.KafkaPublisherConfig `mapstructure:",squash"`
}

// BehaviorConfig contains adaptive score accumulation settings
type BehaviorConfig struct {
	Increment float64       `mapstructure:"increment"`
	Ceiling   float64       `mapstructure:"ceiling"`
	HalfLife  time.Duration `mapstructure:"half_life"`
}

// AdminAuthConfig contains admin API authentication settings
type AdminAuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// Loader reads configuration and watches the config file for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a configuration loader with defaults applied
func NewLoader() *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ratelimit-service")

	v.SetEnvPrefix("RATELIMIT")
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{v: v}
}

// Load reads the configuration from file, environment and defaults
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.unmarshal()
}

// Watch invokes onChange with a freshly validated configuration each
// time the config file changes. Invalid edits are reported through
// onError and never reach onChange, so the running configuration is
// retained.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		config, err := l.unmarshal()
		if err != nil {
			onError(err)
			return
		}
		onChange(config)
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// LoadConfig loads configuration without file watching
func LoadConfig() (*Config, error) {
	return NewLoader().Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "ratelimit-service")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.shutdown_timeout", "30s")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "30s")
	v.SetDefault("http.api_prefix", "/api/v1")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "100ms")
	v.SetDefault("redis.write_timeout", "100ms")
	v.SetDefault("redis.max_retries", 1)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "isectech_platform")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "rate-limit-events")
	v.SetDefault("kafka.client_id", "ratelimit-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "50ms")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.max_retries", 3)

	v.SetDefault("pipeline.fail_policy", usecase.FailPolicyOpen)
	v.SetDefault("pipeline.store_timeout", "25ms")
	v.SetDefault("pipeline.anonymous_tier", string(entity.TierAnonymous))
	v.SetDefault("pipeline.degraded_retry_after_seconds", 30)

	v.SetDefault("adaptive.min_multiplier", 0.25)
	v.SetDefault("adaptive.max_multiplier", 1.0)
	v.SetDefault("adaptive.score_ceiling", 10.0)
	v.SetDefault("adaptive.ip_multiplier_floor", 0.5)

	v.SetDefault("behavior.increment", 1.0)
	v.SetDefault("behavior.ceiling", 10.0)
	v.SetDefault("behavior.half_life", "10m")

	v.SetDefault("admin.operations_per_second", 1.0)
	v.SetDefault("admin.operation_burst", 5)
	v.SetDefault("admin.default_tier", string(entity.TierFree))
	v.SetDefault("admin.override_max_ttl", "24h")

	v.SetDefault("auth.issuer", "isectech-platform")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.service_name", "ratelimit-service")

	v.SetDefault("rules", defaultRules())
}

// defaultRules is the built-in rule table used when no rules section is
// configured. Tiers without explicit categories fall back through the
// rule provider's resolution chain.
func defaultRules() []map[string]interface{} {
	return []map[string]interface{}{
		{"tier": "anonymous", "endpoint_category": "default", "requests_per_window": 30, "window_seconds": 60, "burst_limit": 10, "burst_window_seconds": 1, "adaptive_enabled": true},
		{"tier": "free", "endpoint_category": "default", "requests_per_window": 60, "window_seconds": 60, "burst_limit": 20, "burst_window_seconds": 1, "adaptive_enabled": true},
		{"tier": "pro", "endpoint_category": "default", "requests_per_window": 600, "window_seconds": 60, "burst_limit": 100, "burst_window_seconds": 1, "adaptive_enabled": true},
		{"tier": "enterprise", "endpoint_category": "default", "requests_per_window": 6000, "window_seconds": 60, "burst_limit": 500, "burst_window_seconds": 1, "adaptive_enabled": false},
		{"tier": "default", "endpoint_category": "default", "requests_per_window": 60, "window_seconds": 60, "adaptive_enabled": true},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Adaptive.Validate(); err != nil {
		return err
	}
	if c.Behavior.Increment <= 0 {
		return fmt.Errorf("behavior increment must be positive")
	}
	if c.Behavior.Ceiling <= 0 {
		return fmt.Errorf("behavior ceiling must be positive")
	}
	if c.Behavior.HalfLife <= 0 {
		return fmt.Errorf("behavior half_life must be positive")
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one limit rule is required")
	}
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required when database is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Service.Environment == "production"
}

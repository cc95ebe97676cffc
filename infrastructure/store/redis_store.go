package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/pkg/logging"
)

const (
	counterKeyPrefix  = "ratelimit:counter:"
	behaviorKeyPrefix = "ratelimit:behavior:"
	overrideKeyPrefix = "ratelimit:override:"
)

// incrementScript performs the whole counter operation in one atomic
// round trip: increment the current fixed window, lazily apply the TTL
// only on first creation (so hits never extend the window), and read
// the previous window's final count for boundary smoothing. Times are
// milliseconds so sub-second burst windows resolve correctly.
var incrementScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local idx = math.floor(now / window)
local current = KEYS[1] .. ':' .. idx
local count = redis.call('INCR', current)
if count == 1 then
	redis.call('PEXPIRE', current, window * 2 + 60000)
end
local prev = tonumber(redis.call('GET', KEYS[1] .. ':' .. (idx - 1)) or '0')
return {count, prev, idx * window}
`)

// peekScript reads both window counts without consuming quota
var peekScript = redis.NewScript(`
local window = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local idx = math.floor(now / window)
local count = tonumber(redis.call('GET', KEYS[1] .. ':' .. idx) or '0')
local prev = tonumber(redis.call('GET', KEYS[1] .. ':' .. (idx - 1)) or '0')
return {count, prev, idx * window}
`)

// behaviorScript applies half-life decay, adds the increment, caps at
// the ceiling and persists the new state, all atomically. A zero
// increment is a pure read and never creates state for clean
// identities.
var behaviorScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local halflife = tonumber(ARGV[2])
local incr = tonumber(ARGV[3])
local ceiling = tonumber(ARGV[4])
local state = redis.call('HMGET', KEYS[1], 'score', 'ts')
local score = tonumber(state[1]) or 0
local ts = tonumber(state[2]) or now
if now > ts and halflife > 0 then
	score = score * math.pow(0.5, (now - ts) / halflife)
end
score = score + incr
if score > ceiling then
	score = ceiling
end
if incr > 0 or state[1] then
	redis.call('HSET', KEYS[1], 'score', score, 'ts', now)
	redis.call('PEXPIRE', KEYS[1], halflife * 10)
end
return tostring(score)
`)

// RedisStore implements CounterStore, BehaviorStore and OverrideStore
// against a shared Redis deployment. Every mutation is a single Lua
// script evaluation, so concurrent request-handling processes never
// race: if Redis acknowledged the increment, it counted exactly once.
// A circuit breaker shields the decision path from a struggling Redis;
// an open breaker surfaces as a store failure resolved by the caller's
// fail policy.
type RedisStore struct {
	client         redis.Cmdable
	breaker        *gobreaker.CircuitBreaker
	behaviorParams service.BehaviorParams
	logger         *logging.Logger
	now            func() time.Time
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client redis.Cmdable, behaviorParams service.BehaviorParams, logger *logging.Logger) *RedisStore {
	log := logger.WithComponent("redis_store")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-redis",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RedisStore{
		client:         client,
		breaker:        breaker,
		behaviorParams: behaviorParams,
		logger:         log,
		now:            time.Now,
	}
}

// BreakerState reports the circuit breaker state for health checks
func (s *RedisStore) BreakerState() string {
	return s.breaker.State().String()
}

// IncrementWindow atomically increments the counter for key
func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (service.WindowSample, error) {
	return s.runWindowScript(ctx, incrementScript, key, window)
}

// PeekWindow reads the counter for key without incrementing
func (s *RedisStore) PeekWindow(ctx context.Context, key string, window time.Duration) (service.WindowSample, error) {
	return s.runWindowScript(ctx, peekScript, key, window)
}

func (s *RedisStore) runWindowScript(ctx context.Context, script *redis.Script, key string, window time.Duration) (service.WindowSample, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return script.Run(ctx, s.client,
			[]string{counterKeyPrefix + key},
			window.Milliseconds(),
			s.now().UnixMilli(),
		).Result()
	})
	if err != nil {
		return service.WindowSample{}, fmt.Errorf("counter script for %q: %w", key, err)
	}
	return parseWindowReply(result)
}

func parseWindowReply(reply interface{}) (service.WindowSample, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 3 {
		return service.WindowSample{}, fmt.Errorf("unexpected counter script reply %T", reply)
	}

	current, ok1 := values[0].(int64)
	previous, ok2 := values[1].(int64)
	startMillis, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return service.WindowSample{}, fmt.Errorf("unexpected counter script reply values %v", values)
	}

	return service.WindowSample{
		Current:     current,
		Previous:    previous,
		WindowStart: time.UnixMilli(startMillis),
	}, nil
}

// ResetWindows deletes the current and previous window keys for each
// key. Administrative resets only.
func (s *RedisStore) ResetWindows(ctx context.Context, window time.Duration, keys ...string) error {
	index := s.now().UnixMilli() / window.Milliseconds()

	storeKeys := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		storeKeys = append(storeKeys,
			fmt.Sprintf("%s%s:%d", counterKeyPrefix, key, index),
			fmt.Sprintf("%s%s:%d", counterKeyPrefix, key, index-1),
		)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Del(ctx, storeKeys...).Result()
	})
	if err != nil {
		return fmt.Errorf("reset windows: %w", err)
	}
	return nil
}

// RecordViolation decays and increments the behavior score for an
// identity, returning the new score.
func (s *RedisStore) RecordViolation(ctx context.Context, identity string) (float64, error) {
	return s.runBehaviorScript(ctx, identity, s.behaviorParams.Increment)
}

// Score returns the decayed behavior score for an identity
func (s *RedisStore) Score(ctx context.Context, identity string) (float64, error) {
	return s.runBehaviorScript(ctx, identity, 0)
}

func (s *RedisStore) runBehaviorScript(ctx context.Context, identity string, increment float64) (float64, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return behaviorScript.Run(ctx, s.client,
			[]string{behaviorKeyPrefix + identity},
			s.now().UnixMilli(),
			s.behaviorParams.HalfLife.Milliseconds(),
			increment,
			s.behaviorParams.Ceiling,
		).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("behavior script for %q: %w", identity, err)
	}

	raw, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected behavior script reply %T", result)
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse behavior score %q: %w", raw, err)
	}
	return score, nil
}

// ResetScore clears the behavior score for an identity
func (s *RedisStore) ResetScore(ctx context.Context, identity string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Del(ctx, behaviorKeyPrefix+identity).Result()
	})
	if err != nil {
		return fmt.Errorf("reset behavior score: %w", err)
	}
	return nil
}

// SetOverride stores a tier override as msgpack with the override TTL
func (s *RedisStore) SetOverride(ctx context.Context, override entity.TierOverride, ttl time.Duration) error {
	payload, err := msgpack.Marshal(&override)
	if err != nil {
		return fmt.Errorf("encode tier override: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return s.client.Set(ctx, overrideKeyPrefix+override.Identity, payload, ttl).Result()
	})
	if err != nil {
		return fmt.Errorf("store tier override: %w", err)
	}
	return nil
}

// GetOverride fetches a tier override, returning nil when none exists
func (s *RedisStore) GetOverride(ctx context.Context, identity string) (*entity.TierOverride, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		payload, err := s.client.Get(ctx, overrideKeyPrefix+identity).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return payload, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tier override: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	payload, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected tier override payload %T", result)
	}
	var override entity.TierOverride
	if err := msgpack.Unmarshal(payload, &override); err != nil {
		return nil, fmt.Errorf("decode tier override: %w", err)
	}
	return &override, nil
}

// DeleteOverride removes a tier override
func (s *RedisStore) DeleteOverride(ctx context.Context, identity string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Del(ctx, overrideKeyPrefix+identity).Result()
	})
	if err != nil {
		return fmt.Errorf("delete tier override: %w", err)
	}
	return nil
}

// Ping verifies connectivity for health checks, bypassing the breaker
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

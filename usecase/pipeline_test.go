package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/infrastructure/limits"
	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/infrastructure/store"
	"isectech/ratelimit-service/pkg/logging"
)

func testRules(t *testing.T) *limits.Provider {
	t.Helper()
	provider, err := limits.NewProvider([]entity.LimitRule{
		{Tier: entity.TierAnonymous, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 2, WindowSeconds: 60},
		{Tier: entity.TierFree, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 5, WindowSeconds: 60, BurstLimit: 3, BurstWindowSeconds: 1},
		{Tier: entity.TierPro, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 100, WindowSeconds: 60},
		{Tier: entity.TierDefault, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 10, WindowSeconds: 60},
	}, logging.NewNopLogger())
	require.NoError(t, err)
	return provider
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *store.MemoryStore
	events   *capturePublisher
}

func newPipelineFixture(t *testing.T, counterStore service.CounterStore, mem *store.MemoryStore, config PipelineConfig) *pipelineFixture {
	t.Helper()
	logger := logging.NewNopLogger()
	events := &capturePublisher{}

	pipeline := NewPipeline(
		NewKeyResolver(),
		NewCounterEngine(counterStore, logger),
		NewBurstGuard(counterStore, logger),
		NewAdaptiveAdjuster(mem, DefaultAdaptiveConfig(), logger),
		testRules(t),
		mem,
		events,
		monitoring.NewCollector("test"),
		logger,
		config,
	)
	return &pipelineFixture{pipeline: pipeline, store: mem, events: events}
}

func TestPipelineAdmitsAndReportsQuota(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, mem, mem, DefaultPipelineConfig())
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}

	decision := f.pipeline.Check(context.Background(), caller, "default")
	assert.True(t, decision.Admitted)
	assert.False(t, decision.Degraded)
	assert.Positive(t, decision.Limit)
	assert.False(t, decision.ResetAt.IsZero())
}

func TestPipelineDeniesOnBurst(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, mem, mem, DefaultPipelineConfig())
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := f.pipeline.Check(ctx, caller, "default")
		require.True(t, decision.Admitted, "request %d", i+1)
	}

	decision := f.pipeline.Check(ctx, caller, "default")
	assert.False(t, decision.Admitted)
	assert.Equal(t, entity.ScopeUser, decision.ViolatedScope)
	assert.Equal(t, "RATE_LIMITED_USER", decision.ReasonCode())
	assert.GreaterOrEqual(t, decision.RetryAfterSeconds, 1)
}

func TestPipelineDenyFeedsBehaviorAndEvents(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, mem, mem, DefaultPipelineConfig())
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.pipeline.Check(ctx, caller, "default")
	}

	score, err := mem.Score(ctx, "user:u-1")
	require.NoError(t, err)
	assert.Positive(t, score, "denial must raise the behavior score")

	assert.Equal(t, 1, f.events.denyCount())
}

func TestPipelineUnauthenticatedUsesAnonymousTier(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, mem, mem, DefaultPipelineConfig())
	ctx := context.Background()

	// a spoofed tier header without identity must not grant pro limits
	caller := entity.CallerContext{IP: "203.0.113.7", Tier: entity.TierPro}

	admitted := 0
	for i := 0; i < 5; i++ {
		if f.pipeline.Check(ctx, caller, "default").Admitted {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "anonymous limit applies")
}

func TestPipelineTierOverridePromotes(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, mem, mem, DefaultPipelineConfig())
	ctx := context.Background()

	require.NoError(t, mem.SetOverride(ctx, entity.TierOverride{
		Identity:  "user:u-1",
		Tier:      entity.TierPro,
		ExpiresAt: time.Now().Add(time.Hour),
	}, time.Hour))

	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}

	// free tier would deny on burst after 3; the override lifts it
	for i := 0; i < 20; i++ {
		decision := f.pipeline.Check(ctx, caller, "default")
		require.True(t, decision.Admitted, "request %d", i+1)
	}
}

func TestPipelineFailOpen(t *testing.T) {
	mem := newTestStore()
	f := newPipelineFixture(t, failingCounterStore{}, mem, DefaultPipelineConfig())
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}

	decision := f.pipeline.Check(context.Background(), caller, "default")
	assert.True(t, decision.Admitted)
	assert.True(t, decision.Degraded)
}

func TestPipelineFailClosed(t *testing.T) {
	mem := newTestStore()
	config := DefaultPipelineConfig()
	config.FailPolicy = FailPolicyClosed
	f := newPipelineFixture(t, failingCounterStore{}, mem, config)
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}

	decision := f.pipeline.Check(context.Background(), caller, "default")
	assert.False(t, decision.Admitted)
	assert.True(t, decision.Degraded)
	assert.Equal(t, config.DegradedRetryAfterSeconds, decision.RetryAfterSeconds)
	// no violated scope: nothing was actually measured
	assert.Empty(t, decision.ViolatedScope)
	assert.Equal(t, "RATE_LIMITED", decision.ReasonCode())
}

func TestPipelineCountsDespiteCancelledCaller(t *testing.T) {
	mem := newTestStore()
	sensitive := cancellationSensitiveStore{inner: mem}
	f := newPipelineFixture(t, sensitive, mem, DefaultPipelineConfig())
	caller := entity.CallerContext{IP: "203.0.113.7", UserID: "u-1", Tier: entity.TierFree}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := f.pipeline.Check(ctx, caller, "default")
	assert.True(t, decision.Admitted)
	assert.False(t, decision.Degraded, "store calls must run detached from caller cancellation")

	sample, err := mem.PeekWindow(context.Background(), "user:u-1:default", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sample.Current)
}

func TestPipelineConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPipelineConfig().Validate())

	bad := DefaultPipelineConfig()
	bad.FailPolicy = "maybe"
	assert.Error(t, bad.Validate())

	bad = DefaultPipelineConfig()
	bad.StoreTimeout = 0
	assert.Error(t, bad.Validate())
}

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu     sync.Mutex
	denies []entity.Decision
}

func (c *capturePublisher) PublishDenyEvent(_ context.Context, _ entity.CallerContext, decision entity.Decision, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denies = append(c.denies, decision)
}

func (c *capturePublisher) PublishAdminEvent(context.Context, *entity.AuditRecord) {}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) denyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.denies)
}

// cancellationSensitiveStore fails any call whose context is already
// done, mimicking a real client library.
type cancellationSensitiveStore struct {
	inner service.CounterStore
}

func (s cancellationSensitiveStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (service.WindowSample, error) {
	if err := ctx.Err(); err != nil {
		return service.WindowSample{}, err
	}
	return s.inner.IncrementWindow(ctx, key, window)
}

func (s cancellationSensitiveStore) PeekWindow(ctx context.Context, key string, window time.Duration) (service.WindowSample, error) {
	if err := ctx.Err(); err != nil {
		return service.WindowSample{}, err
	}
	return s.inner.PeekWindow(ctx, key, window)
}

func (s cancellationSensitiveStore) ResetWindows(ctx context.Context, window time.Duration, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.ResetWindows(ctx, window, keys...)
}

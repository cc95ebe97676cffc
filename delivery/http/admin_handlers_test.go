package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/domain/service"
	"isectech/ratelimit-service/infrastructure/limits"
	"isectech/ratelimit-service/infrastructure/messaging"
	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/infrastructure/store"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

type auditSink struct{}

func (auditSink) LogAdminEvent(ctx context.Context, record *entity.AuditRecord) error { return nil }

type fixedAuditReader struct {
	events []entity.AuditRecord
}

func (r fixedAuditReader) RecentAdminEvents(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	return r.events, nil
}

func adminTestRouter(t *testing.T) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewNopLogger()

	mem := store.NewMemoryStore(service.BehaviorParams{
		Increment: 1.0,
		Ceiling:   10.0,
		HalfLife:  10 * time.Minute,
	})

	provider, err := limits.NewProvider([]entity.LimitRule{
		{Tier: entity.TierFree, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 10, WindowSeconds: 60},
		{Tier: entity.TierPro, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 100, WindowSeconds: 60},
		{Tier: entity.TierDefault, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 10, WindowSeconds: 60},
	}, logger)
	require.NoError(t, err)

	admin := usecase.NewAdminService(
		provider,
		usecase.NewCounterEngine(mem, logger),
		usecase.NewAdaptiveAdjuster(mem, usecase.DefaultAdaptiveConfig(), logger),
		mem, mem, mem,
		auditSink{},
		messaging.NewNopPublisher(),
		monitoring.NewCollector("test"),
		logger,
		usecase.DefaultAdminConfig(),
	)

	handler := NewAdminHandler(admin, logger)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(contextKeyOperator, usecase.Operator{ID: "ops-1", Roles: []string{"platform-admin"}})
	})
	router.GET("/config", handler.GetConfig)
	router.GET("/limits/:identity", handler.GetEffectiveLimit)
	router.GET("/usage/:identity", handler.GetUsage)
	router.POST("/reset/:identity", handler.ResetCounters)
	router.PUT("/overrides/:identity", handler.SetOverride)
	router.DELETE("/overrides/:identity", handler.ClearOverride)
	return router, mem
}

func TestAdminGetConfig(t *testing.T) {
	router, _ := adminTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/config", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Version int64              `json:"version"`
		Rules   []entity.LimitRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Positive(t, body.Version)
	assert.Len(t, body.Rules, 3)
}

func TestAdminGetEffectiveLimit(t *testing.T) {
	router, _ := adminTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/limits/user:u-1?tier=pro", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var info usecase.EffectiveLimitInfo
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &info))
	assert.Equal(t, entity.TierPro, info.Tier)
	assert.Equal(t, 100, info.NominalLimit)
}

func TestAdminInvalidIdentity(t *testing.T) {
	router, _ := adminTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/usage/%20", nil))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "INVALID_IDENTITY")
}

func TestAdminOverrideRoundTrip(t *testing.T) {
	router, mem := adminTestRouter(t)

	payload := `{"tier":"pro","ttl_seconds":3600,"reason":"support escalation"}`
	req := httptest.NewRequest(http.MethodPut, "/overrides/user:u-1", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	override, err := mem.GetOverride(req.Context(), "user:u-1")
	require.NoError(t, err)
	require.NotNil(t, override)
	assert.Equal(t, entity.TierPro, override.Tier)
	assert.Equal(t, "ops-1", override.SetBy)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/overrides/user:u-1", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	override, err = mem.GetOverride(req.Context(), "user:u-1")
	require.NoError(t, err)
	assert.Nil(t, override)
}

func TestAdminOverrideBadBody(t *testing.T) {
	router, _ := adminTestRouter(t)

	req := httptest.NewRequest(http.MethodPut, "/overrides/user:u-1", strings.NewReader(`{"ttl_seconds":0}`))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAdminListAuditEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(nil, logging.NewNopLogger()).WithAuditLog(fixedAuditReader{
		events: []entity.AuditRecord{
			{ID: "a-1", Actor: "ops-1", Action: entity.AuditActionSetOverride},
			{ID: "a-2", Actor: "ops-1", Action: entity.AuditActionClearOverride},
		},
	})
	require.True(t, handler.HasAuditLog())
	assert.False(t, NewAdminHandler(nil, logging.NewNopLogger()).HasAuditLog())

	router := gin.New()
	router.GET("/audit", handler.ListAuditEvents)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/audit?limit=10", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Events []entity.AuditRecord `json:"events"`
		Count  int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "a-1", body.Events[0].ID)
}

func TestAdminResetAndUsage(t *testing.T) {
	router, mem := adminTestRouter(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	for i := 0; i < 5; i++ {
		_, err := mem.IncrementWindow(ctx, "user:u-1:default", time.Minute)
		require.NoError(t, err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/usage/user:u-1?tier=free", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	var usage usecase.UsageInfo
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &usage))
	assert.Equal(t, int64(5), usage.Count)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/reset/user:u-1?tier=free", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/usage/user:u-1?tier=free", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &usage))
	assert.Zero(t, usage.Count)
}

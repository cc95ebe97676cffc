package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func testPipeline(t *testing.T) (*usecase.Pipeline, *store.MemoryStore) {
	t.Helper()
	logger := logging.NewNopLogger()

	mem := store.NewMemoryStore(service.BehaviorParams{
		Increment: 1.0,
		Ceiling:   10.0,
		HalfLife:  10 * time.Minute,
	})

	provider, err := limits.NewProvider([]entity.LimitRule{
		{Tier: entity.TierAnonymous, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 3, WindowSeconds: 60},
		{Tier: entity.TierFree, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 10, WindowSeconds: 60},
		{Tier: entity.TierDefault, EndpointCategory: entity.CategoryDefault, RequestsPerWindow: 10, WindowSeconds: 60},
	}, logger)
	require.NoError(t, err)

	pipeline := usecase.NewPipeline(
		usecase.NewKeyResolver(),
		usecase.NewCounterEngine(mem, logger),
		usecase.NewBurstGuard(mem, logger),
		usecase.NewAdaptiveAdjuster(mem, usecase.DefaultAdaptiveConfig(), logger),
		provider,
		mem,
		messaging.NewNopPublisher(),
		monitoring.NewCollector("test"),
		logger,
		usecase.DefaultPipelineConfig(),
	)
	return pipeline, mem
}

func testEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pipeline, _ := testPipeline(t)
	middleware := NewRateLimitMiddleware(pipeline, logging.NewNopLogger())

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(CallerMiddleware())
	router.GET("/echo", middleware.Admit("default"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.POST("/check/:category", middleware.CheckHandler())
	return router
}

func TestAdmitSetsQuotaHeaders(t *testing.T) {
	router := testEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-Tier", "free")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "10", recorder.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, recorder.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, recorder.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))
}

func TestAdmitDeniesOverLimit(t *testing.T) {
	router := testEngine(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/echo", nil)
		req.RemoteAddr = "203.0.113.7:4455"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, "Rate Limit Exceeded", body["error"])
	assert.Contains(t, body["code"], "RATE_LIMITED")
	assert.NotNil(t, body["retry_after"])
}

func TestCheckHandlerSidecar(t *testing.T) {
	router := testEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/check/default", nil)
	req.Header.Set("X-User-ID", "u-9")
	req.Header.Set("X-Tier", "free")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, true, body["admitted"])
}

func TestCallerFromContextFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.9:1234"

	caller := CallerFromContext(c)
	assert.Equal(t, "203.0.113.9", caller.IP)
	assert.Empty(t, caller.UserID)
}

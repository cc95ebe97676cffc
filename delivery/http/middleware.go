package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

const (
	contextKeyCaller    = "rate_limit_caller"
	contextKeyRequestID = "request_id"
)

// RequestIDMiddleware propagates or assigns an X-Request-ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CallerMiddleware builds the caller context from the gateway-injected
// identity headers. The gateway authenticates upstream; absent headers
// mean an unauthenticated caller limited by IP alone.
func CallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := entity.CallerContext{
			IP:       c.ClientIP(),
			UserID:   c.GetHeader("X-User-ID"),
			TenantID: c.GetHeader("X-Tenant-ID"),
			Tier:     entity.Tier(c.GetHeader("X-Tier")),
		}
		c.Set(contextKeyCaller, caller)
		c.Next()
	}
}

// CallerFromContext returns the caller attached by CallerMiddleware
func CallerFromContext(c *gin.Context) entity.CallerContext {
	if value, exists := c.Get(contextKeyCaller); exists {
		if caller, ok := value.(entity.CallerContext); ok {
			return caller
		}
	}
	return entity.CallerContext{IP: c.ClientIP()}
}

// RateLimitMiddleware runs the admission pipeline for a fixed endpoint
// category and rejects over-limit requests before they reach handlers.
type RateLimitMiddleware struct {
	pipeline *usecase.Pipeline
	logger   *logging.Logger
}

// NewRateLimitMiddleware creates a new admission middleware
func NewRateLimitMiddleware(pipeline *usecase.Pipeline, logger *logging.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		pipeline: pipeline,
		logger:   logger.WithComponent("ratelimit_middleware"),
	}
}

// Admit returns a handler enforcing limits for the endpoint category
func (m *RateLimitMiddleware) Admit(endpointCategory string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFromContext(c)
		decision := m.pipeline.Check(c.Request.Context(), caller, endpointCategory)

		writeQuotaHeaders(c, decision)

		if decision.Admitted {
			c.Next()
			return
		}

		m.logger.Debug("Request denied by rate limit",
			zap.String("reason", decision.ReasonCode()),
			zap.String("category", endpointCategory),
			zap.String("ip", caller.IP),
		)

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate Limit Exceeded",
			"message":     "Too many requests, slow down and retry later",
			"code":        decision.ReasonCode(),
			"limit":       decision.Limit,
			"remaining":   decision.Remaining,
			"reset_time":  decision.ResetAt.Unix(),
			"retry_after": decision.RetryAfterSeconds,
		})
		c.Abort()
	}
}

// CheckHandler exposes the decision pipeline as a standalone endpoint
// for sidecar-style integration. The category comes from the path.
func (m *RateLimitMiddleware) CheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFromContext(c)
		category := c.Param("category")

		decision := m.pipeline.Check(c.Request.Context(), caller, category)
		writeQuotaHeaders(c, decision)

		status := http.StatusOK
		if !decision.Admitted {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{
			"admitted":    decision.Admitted,
			"code":        decision.ReasonCode(),
			"limit":       decision.Limit,
			"remaining":   decision.Remaining,
			"reset_time":  decision.ResetAt.Unix(),
			"retry_after": decision.RetryAfterSeconds,
			"degraded":    decision.Degraded,
		})
	}
}

func writeQuotaHeaders(c *gin.Context, decision entity.Decision) {
	// degraded fail-closed denials expose no counter state
	if decision.Degraded && !decision.Admitted {
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Admitted {
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
	}
}

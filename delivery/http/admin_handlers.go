package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

// AuditReader serves the persisted audit trail. Only available when an
// audit database is configured.
type AuditReader interface {
	RecentAdminEvents(ctx context.Context, limit int) ([]entity.AuditRecord, error)
}

// AdminHandler exposes the administrative control API
type AdminHandler struct {
	admin  *usecase.AdminService
	audit  AuditReader
	logger *logging.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *usecase.AdminService, logger *logging.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger.WithComponent("admin_handler"),
	}
}

// WithAuditLog enables the audit listing endpoint backed by the reader
func (h *AdminHandler) WithAuditLog(reader AuditReader) *AdminHandler {
	h.audit = reader
	return h
}

// HasAuditLog reports whether an audit reader is configured
func (h *AdminHandler) HasAuditLog() bool {
	return h.audit != nil
}

// GetConfig returns the active rule table and its version
func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": h.admin.RuleVersion(),
		"rules":   h.admin.ConfigSnapshot(),
	})
}

// GetEffectiveLimit resolves the current limit for an identity
func (h *AdminHandler) GetEffectiveLimit(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	info, err := h.admin.EffectiveLimit(c.Request.Context(),
		identity, c.Query("category"), entity.Tier(c.Query("tier")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetUsage returns current window consumption for an identity
func (h *AdminHandler) GetUsage(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	info, err := h.admin.Usage(c.Request.Context(),
		identity, c.Query("category"), entity.Tier(c.Query("tier")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ResetCounters clears counters and behavior state for an identity
func (h *AdminHandler) ResetCounters(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	err := h.admin.ResetCounters(c.Request.Context(), OperatorFromContext(c),
		identity, c.Query("category"), entity.Tier(c.Query("tier")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "reset",
		"identity": identity.String(),
	})
}

type setOverrideRequest struct {
	Tier       string `json:"tier" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds" binding:"required,min=1"`
	Reason     string `json:"reason"`
}

// SetOverride installs a manual tier override for an identity
func (h *AdminHandler) SetOverride(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	var req setOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  entity.ErrCodeInvalidInput,
		})
		return
	}

	override, err := h.admin.SetTierOverride(c.Request.Context(), OperatorFromContext(c),
		identity, entity.Tier(req.Tier), time.Duration(req.TTLSeconds)*time.Second, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, override)
}

// ClearOverride removes a manual tier override
func (h *AdminHandler) ClearOverride(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	err := h.admin.ClearTierOverride(c.Request.Context(), OperatorFromContext(c), identity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "cleared",
		"identity": identity.String(),
	})
}

// ListAuditEvents returns the most recent administrative mutations
func (h *AdminHandler) ListAuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	events, err := h.audit.RecentAdminEvents(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

func (h *AdminHandler) identityParam(c *gin.Context) (entity.Identity, bool) {
	identity, err := entity.ParseIdentity(c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  entity.ErrCodeInvalidIdentity,
		})
		return entity.Identity{}, false
	}
	return identity, true
}

func (h *AdminHandler) writeError(c *gin.Context, err error) {
	appErr := entity.GetAppError(err)
	if appErr == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
			"code":  entity.ErrCodeInternal,
		})
		return
	}
	c.JSON(appErr.StatusCode, gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}

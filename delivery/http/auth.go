package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"isectech/ratelimit-service/domain/entity"
	"isectech/ratelimit-service/pkg/logging"
	"isectech/ratelimit-service/usecase"
)

const contextKeyOperator = "admin_operator"

// AdminClaims represents the JWT claims accepted on the admin surface
type AdminClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// AdminAuthMiddleware authenticates operators on admin endpoints
type AdminAuthMiddleware struct {
	secretKey []byte
	issuer    string
	logger    *logging.Logger
}

// NewAdminAuthMiddleware creates a new admin authentication middleware
func NewAdminAuthMiddleware(secretKey []byte, issuer string, logger *logging.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		secretKey: secretKey,
		issuer:    issuer,
		logger:    logger.WithComponent("admin_auth"),
	}
}

// Authenticate validates the Bearer token and attaches the operator
func (m *AdminAuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, err := m.authenticate(c)
		if err != nil {
			m.logger.LogSecurityEvent("admin_auth_failed", "medium",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
				"code":  entity.ErrCodeAdminUnauthorized,
			})
			return
		}
		c.Set(contextKeyOperator, operator)
		c.Next()
	}
}

// RequireRole rejects operators missing the given role
func (m *AdminAuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		operator := OperatorFromContext(c)
		for _, r := range operator.Roles {
			if r == role {
				c.Next()
				return
			}
		}
		m.logger.LogSecurityEvent("admin_role_denied", "medium",
			zap.String("operator", operator.ID),
			zap.String("required_role", role))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Forbidden",
			"code":  entity.ErrCodeAdminUnauthorized,
		})
	}
}

func (m *AdminAuthMiddleware) authenticate(c *gin.Context) (usecase.Operator, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return usecase.Operator{}, fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return usecase.Operator{}, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.ParseWithClaims(parts[1], &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case "HS256", "HS384", "HS512":
			return m.secretKey, nil
		default:
			return nil, fmt.Errorf("unsupported signing method: %s", token.Method.Alg())
		}
	})
	if err != nil {
		return usecase.Operator{}, fmt.Errorf("invalid JWT token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return usecase.Operator{}, fmt.Errorf("invalid JWT claims")
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return usecase.Operator{}, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return usecase.Operator{}, fmt.Errorf("token carries no operator identity")
	}

	requestID, _ := c.Get(contextKeyRequestID)
	requestIDStr, _ := requestID.(string)

	return usecase.Operator{
		ID:        claims.UserID,
		Roles:     claims.Roles,
		SourceIP:  c.ClientIP(),
		RequestID: requestIDStr,
	}, nil
}

// OperatorFromContext returns the operator attached by Authenticate
func OperatorFromContext(c *gin.Context) usecase.Operator {
	if value, exists := c.Get(contextKeyOperator); exists {
		if operator, ok := value.(usecase.Operator); ok {
			return operator
		}
	}
	return usecase.Operator{SourceIP: c.ClientIP()}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/cookie-catcher/internal/service"
)

// 上下文中的键
const (
	ctxRole      = "role"
	ctxSessionID = "sessionID"
	ctxRoomID    = "roomID"
)

// AuthMiddleware 管理员令牌认证中间件
type AuthMiddleware struct {
	admin service.AdminService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(admin service.AdminService) *AuthMiddleware {
	return &AuthMiddleware{admin: admin}
}

// RequireRole 需要特定角色的中间件
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := m.admin.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		hasRole := false
		for _, role := range roles {
			if claims.Role == role {
				hasRole = true
				break
			}
		}
		if !hasRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		c.Set(ctxRole, claims.Role)
		c.Set(ctxSessionID, claims.Subject)
		c.Set(ctxRoomID, claims.RoomID)
		c.Next()
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	// Authorization: Bearer <token>
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}
	return ""
}

// GetRole 从上下文获取角色
func GetRole(c *gin.Context) (string, bool) {
	if role, exists := c.Get(ctxRole); exists {
		if r, ok := role.(string); ok {
			return r, true
		}
	}
	return "", false
}

// GetSessionID 从上下文获取管理会话ID
func GetSessionID(c *gin.Context) (string, bool) {
	if id, exists := c.Get(ctxSessionID); exists {
		if s, ok := id.(string); ok {
			return s, true
		}
	}
	return "", false
}

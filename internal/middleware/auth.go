package middleware

import (
	"net/http"
	"strings"

	"github.com/creatorfund/backend/internal/security"
	"github.com/creatorfund/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// AuthMiddleware verifies JWT tokens and adds the caller to the context
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set(principalKey, security.Principal{UserID: claims.UserID, Roles: claims.Roles})

		c.Next()
	}
}

// AdminMiddleware admits staff roles. Individual operations still check their
// own permission.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok || !(p.HasRole(security.RoleAdmin) || p.HasRole(security.RoleFinance)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentPrincipal returns the caller set by AuthMiddleware
func CurrentPrincipal(c *gin.Context) (security.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return security.Principal{}, false
	}
	p, ok := v.(security.Principal)
	return p, ok
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

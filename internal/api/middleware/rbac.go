package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebari-dev/labgate/internal/auth"
	"github.com/nebari-dev/labgate/internal/rbac"
)

// RequirePermission ensures the authenticated user's role holds perm.
func RequirePermission(enf *rbac.Enforcer, perm rbac.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.GetUserFromContext(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		allowed, err := enf.Allowed(user.Role, perm)
		if err != nil {
			slog.Error("Permission check failed", "role", user.Role, "object", perm.Object, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}

		c.Next()
	}
}

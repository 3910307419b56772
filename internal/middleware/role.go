package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"winetours/internal/pkg/response"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// RequireRole ensures that the authenticated user holds one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ctxRole)
		if !exists {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		for _, r := range roles {
			if role.(string) == r {
				c.Next()
				return
			}
		}
		response.CustomError(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
	}
}

// AdminOnly middleware requires admin role
func AdminOnly() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}

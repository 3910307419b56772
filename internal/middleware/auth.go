package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"winetours/internal/pkg/jwt"
	"winetours/internal/pkg/response"
)

const (
	ctxActor = "actor"
	ctxRole  = "role"
)

// JWTAuth validates the bearer token and stores the caller's identity.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing Authorization header")
			return
		}
		if !strings.HasPrefix(h, "Bearer ") {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid Authorization header")
			return
		}
		tokenStr := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if tokenStr == "" {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Empty token")
			return
		}

		claims, err := jwtService.ValidateToken(tokenStr)
		if err != nil {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		c.Set(ctxActor, claims.Actor)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// Actor returns the authenticated identity, or "" outside JWTAuth.
func Actor(c *gin.Context) string {
	return c.GetString(ctxActor)
}

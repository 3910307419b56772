package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"winetours/internal/pkg/response"
)

// TimeclockToken protects the endpoints the time-tracking subsystem calls.
// tokenHash is the bcrypt hash of the shared bearer token; an empty hash
// disables the endpoints.
func TimeclockToken(tokenHash string, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			logAuthFailure(c, log, http.StatusForbidden, "token_not_configured")
			response.CustomError(c, http.StatusForbidden, "AUTH_INVALID", "Time clock integration is not configured")
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			logAuthFailure(c, log, http.StatusUnauthorized, "invalid_auth_format")
			response.CustomError(c, http.StatusUnauthorized, "AUTH_MISSING", "Authorization header must be 'Bearer <token>'")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(parts[1])); err != nil {
			logAuthFailure(c, log, http.StatusForbidden, "invalid_token")
			response.CustomError(c, http.StatusForbidden, "AUTH_INVALID", "Invalid time clock token")
			return
		}

		c.Set(ctxActor, "timeclock")
		c.Next()
	}
}

func logAuthFailure(c *gin.Context, log logrus.FieldLogger, status int, reason string) {
	log.WithFields(logrus.Fields{
		"status":     status,
		"request_id": requestID(c),
		"reason":     reason,
		"path":       c.Request.URL.Path,
	}).Warn("timeclock auth rejected")
}

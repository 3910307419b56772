package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"winetours/internal/apperr"
)

// ErrorLogger logs failed requests and recovers from panics.
func ErrorLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				err := fmt.Errorf("%v", recovered)
				requestFields(c, log, start).WithField("stack", string(debug.Stack())).Error("panic: " + err.Error())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "INTERNAL_SERVER_ERROR",
						"message": "Internal Server Error",
					},
				})
				return
			}

			if len(c.Errors) == 0 {
				if c.Writer.Status() >= http.StatusInternalServerError {
					requestFields(c, log, start).Error("http_error")
				}
				return
			}

			for _, ginErr := range c.Errors {
				entry := requestFields(c, log, start).WithField("kind", apperr.KindOf(ginErr.Err))
				switch apperr.KindOf(ginErr.Err) {
				case apperr.KindIntegrity, apperr.KindInternal:
					entry.Error(ginErr.Error())
				default:
					entry.Info(ginErr.Error())
				}
			}
		}()

		c.Next()
	}
}

func requestFields(c *gin.Context, log logrus.FieldLogger, start time.Time) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"status":     c.Writer.Status(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
		"actor":      Actor(c),
		"role":       c.GetString(ctxRole),
		"request_id": requestID(c),
		"latency":    time.Since(start).String(),
	})
}

func requestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-Id")
	}
	return requestID
}

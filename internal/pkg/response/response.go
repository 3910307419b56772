package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"winetours/internal/apperr"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// CustomError aborts the request with an error envelope.
func CustomError(c *gin.Context, statusCode int, code string, message string) {
	Error(c, statusCode, code, message)
	c.Abort()
}

// FromError renders a domain error with the status matching its kind. The
// error is attached to the context so the error logger sees it.
func FromError(c *gin.Context, err error) {
	_ = c.Error(err)

	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case apperr.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case apperr.KindStateConflict:
		status, code = http.StatusConflict, "STATE_CONFLICT"
	case apperr.KindEligibility:
		status, code = http.StatusTooEarly, "NOT_ELIGIBLE"
	case apperr.KindIntegrity:
		status, code = http.StatusInternalServerError, "INTEGRITY_ERROR"
	default:
		Error(c, status, code, "internal error")
		return
	}
	ErrorWithDetails(c, status, code, err.Error(), apperr.Details(err))
}

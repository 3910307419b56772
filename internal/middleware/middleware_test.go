package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"winetours/internal/apperr"
	"winetours/internal/logging"
	"winetours/internal/pkg/jwt"
	"winetours/internal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth_ValidToken(t *testing.T) {
	jwtService := jwt.New("test-secret-123", time.Hour)
	token, err := jwtService.GenerateToken("dana@winetours.test", RoleAdmin)
	require.NoError(t, err)

	router := gin.New()
	router.Use(JWTAuth(jwtService), AdminOnly())
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": Actor(c)})
	})

	w := perform(router, http.MethodGet, "/protected", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dana@winetours.test")
}

func TestJWTAuth_Rejections(t *testing.T) {
	jwtService := jwt.New("test-secret-123", time.Hour)
	staffToken, err := jwtService.GenerateToken("sam", RoleStaff)
	require.NoError(t, err)

	router := gin.New()
	router.Use(JWTAuth(jwtService), AdminOnly())
	router.GET("/protected", func(c *gin.Context) {
		t.Fatal("handler should not be reached")
	})

	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/protected", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/protected", "not-a-jwt").Code)
	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodGet, "/protected", staffToken).Code)
}

func TestTimeclockToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("clock-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	router := gin.New()
	router.Use(TimeclockToken(string(hash), logging.Discard()))
	router.POST("/clock", func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})

	w := perform(router, http.MethodPost, "/clock", "clock-secret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "timeclock", w.Body.String())

	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodPost, "/clock", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodPost, "/clock", "").Code)
}

func TestTimeclockTokenDisabledWithoutHash(t *testing.T) {
	router := gin.New()
	router.Use(TimeclockToken("", logging.Discard()))
	router.POST("/clock", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodPost, "/clock", "anything").Code)
}

func TestErrorLoggerRecoversPanicsAndMapsErrors(t *testing.T) {
	router := gin.New()
	router.Use(ErrorLogger(logging.Discard()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/conflict", func(c *gin.Context) {
		response.FromError(c, apperr.Conflict("booking", 9, errors.New("already sent")))
	})

	assert.Equal(t, http.StatusInternalServerError, perform(router, http.MethodGet, "/panic", "").Code)

	w := perform(router, http.MethodGet, "/conflict", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "STATE_CONFLICT")
	assert.Contains(t, w.Body.String(), `"entity":"booking"`)
}

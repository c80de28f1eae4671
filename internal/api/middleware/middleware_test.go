package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/profiles", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"profiles": []string{}})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	return router
}

func doGet(router *gin.Engine, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	require.Equal(t, http.StatusOK, doGet(router, "/profiles", "10.0.0.1:5000").Code)
	require.Equal(t, http.StatusOK, doGet(router, "/profiles", "10.0.0.1:5000").Code)

	rec := doGet(router, "/profiles", "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimitIsolatesClients(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	require.Equal(t, http.StatusOK, doGet(router, "/profiles", "10.0.0.1:5000").Code)
	require.Equal(t, http.StatusTooManyRequests, doGet(router, "/profiles", "10.0.0.1:5000").Code)

	assert.Equal(t, http.StatusOK, doGet(router, "/profiles", "10.0.0.2:5000").Code)
}

func TestRateLimitExemptsHealthEndpoint(t *testing.T) {
	router := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, doGet(router, "/health", "10.0.0.1:5000").Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	router := newRouter(CORS([]string{"http://dashboard.local"}))

	req := httptest.NewRequest(http.MethodOptions, "/profiles", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	router := newRouter(CORS([]string{"http://dashboard.local"}))

	req := httptest.NewRequest(http.MethodOptions, "/profiles", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSEmptyListFallsBackToWildcard(t *testing.T) {
	router := newRouter(CORS(nil))

	req := httptest.NewRequest(http.MethodGet, "/profiles", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

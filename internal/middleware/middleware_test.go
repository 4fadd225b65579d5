package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halotrack/halo-server/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func authConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:   true,
		APIKey:    "secret-key",
		SkipPaths: []string{"/health", "/v1/touch"},
	}
}

func doRequest(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareValidKey(t *testing.T) {
	h := NewAuthMiddleware(authConfig(), zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/reports/revenue", map[string]string{AuthHeaderName: "secret-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareQueryParamKey(t *testing.T) {
	h := NewAuthMiddleware(authConfig(), zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/reports/revenue?api_key=secret-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsMissingKey(t *testing.T) {
	h := NewAuthMiddleware(authConfig(), zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/reports/revenue", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "ApiKey", rec.Header().Get("WWW-Authenticate"))
}

func TestAuthMiddlewareRejectsWrongKey(t *testing.T) {
	h := NewAuthMiddleware(authConfig(), zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/reports/revenue", map[string]string{AuthHeaderName: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareSkipsPublicPaths(t *testing.T) {
	h := NewAuthMiddleware(authConfig(), zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/v1/touch", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	cfg := authConfig()
	cfg.Enabled = false
	h := NewAuthMiddleware(cfg, zap.NewNop()).Handler(okHandler())

	rec := doRequest(h, "/reports/revenue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewareSeparateBuckets(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:     true,
		IngestRPS:   1,
		IngestBurst: 2,
		ReportRPS:   1,
		ReportBurst: 1,
	}
	h := NewRateLimitMiddleware(cfg, zap.NewNop()).Handler(okHandler())

	// Ingest bucket allows a burst of two.
	assert.Equal(t, http.StatusOK, doRequest(h, "/v1/touch", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "/webhooks/order", nil).Code)
	rec := doRequest(h, "/v1/touch", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Report bucket is independent and still has a token.
	assert.Equal(t, http.StatusOK, doRequest(h, "/reports/revenue", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "/reports/revenue", nil).Code)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false}
	h := NewRateLimitMiddleware(cfg, zap.NewNop()).Handler(okHandler())

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "/v1/touch", nil).Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := NewRecoveryMiddleware(zap.NewNop()).Handler(panicking)

	rec := doRequest(h, "/v1/touch", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

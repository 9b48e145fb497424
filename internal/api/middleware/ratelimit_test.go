package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bloodlift/bloodlift/internal/api/middleware"
	"github.com/bloodlift/bloodlift/internal/auth"
)

func hit(handler http.Handler, remoteAddr, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/dispatch/queue", http.NoBody)
	req.RemoteAddr = remoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 3, WindowLength: time.Minute})(okHandler)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:12345", "").Code, "request %d", i+1)
	}

	rec := hit(handler, "10.0.0.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute})(okHandler)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "172.16.0.1:12345", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "172.16.0.1:12345", "").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "172.16.0.2:12345", "").Code)
}

func TestRateLimitByOperator_KeysOnOperator(t *testing.T) {
	svc := testJWT(t)
	handler := middleware.Auth(svc)(
		middleware.RateLimitByOperator(middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute})(okHandler),
	)

	alice := issue(t, svc, "op-alice", auth.RoleDispatcher)
	bob := issue(t, svc, "op-bob", auth.RoleDispatcher)

	// Same operator from different addresses shares one budget.
	assert.Equal(t, http.StatusOK, hit(handler, "192.168.1.1:1", alice).Code)
	assert.Equal(t, http.StatusOK, hit(handler, "192.168.1.2:1", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "192.168.1.3:1", alice).Code)

	assert.Equal(t, http.StatusOK, hit(handler, "192.168.1.1:1", bob).Code)
}

func TestRateLimitByOperator_FallsBackToIP(t *testing.T) {
	handler := middleware.RateLimitByOperator(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute})(okHandler)

	assert.Equal(t, http.StatusOK, hit(handler, "198.51.100.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "198.51.100.1:1", "").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "198.51.100.2:1", "").Code)
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	handler := middleware.RequestID(
		middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second})(okHandler),
	)

	assert.Equal(t, http.StatusOK, hit(handler, "203.0.113.1:12345", "").Code)

	rec := hit(handler, "203.0.113.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "Rate limit exceeded")
	assert.Contains(t, body, "/v1/dispatch/queue")
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.AssignRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.AssignRateLimit.WindowLength)
	assert.Equal(t, 120, middleware.StandardRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.StandardRateLimit.WindowLength)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitByIP_BlocksAfterLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.10:54321"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within limit", i+1)
	}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestRateLimitByIP_SeparateClientsSeparateBuckets(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest("POST", "/auth/login", nil)
	first.RemoteAddr = "203.0.113.10:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	assert.Equal(t, http.StatusOK, w.Code)

	second := httptest.NewRequest("POST", "/auth/login", nil)
	second.RemoteAddr = "203.0.113.99:54321"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	assert.Equal(t, http.StatusOK, w.Code)
}

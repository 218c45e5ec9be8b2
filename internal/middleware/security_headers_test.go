package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runWithHeaders(t *testing.T, env string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	handler := SecurityHeaders(SecurityHeadersConfig{Env: env})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_AlwaysPresent(t *testing.T) {
	w := runWithHeaders(t, "development", nil)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "same-origin", w.Header().Get("Cross-Origin-Opener-Policy"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ProductionCSPIsStrict(t *testing.T) {
	w := runWithHeaders(t, "production", nil)

	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self';")
	assert.Contains(t, csp, "frame-ancestors 'none'")
	assert.NotContains(t, csp, "ws:")
}

func TestSecurityHeaders_HSTSOnlyOverTLSInProduction(t *testing.T) {
	w := runWithHeaders(t, "production", nil)
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = runWithHeaders(t, "production", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")

	w = runWithHeaders(t, "development", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

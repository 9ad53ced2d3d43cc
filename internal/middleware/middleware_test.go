package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/operator-relay/pkg/logger"
)

const secret = "test-secret"

func echoSubject(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetSubject(r.Context())))
}

func TestAuthAcceptsValidToken(t *testing.T) {
	token, err := NewToken(secret, "admin@example.com", []string{ScopeRead}, time.Hour)
	require.NoError(t, err)

	h := Auth(secret)(RequireScope(ScopeRead)(http.HandlerFunc(echoSubject)))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin@example.com", rec.Body.String())
}

func TestAuthRejects(t *testing.T) {
	expired, err := NewToken(secret, "admin", []string{ScopeRead}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewToken("other", "admin", []string{ScopeRead}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Token abc"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
	}

	h := Auth(secret)(http.HandlerFunc(echoSubject))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireScopeForbidsMissingScope(t *testing.T) {
	token, err := NewToken(secret, "viewer", nil, time.Hour)
	require.NoError(t, err)

	h := Auth(secret)(RequireScope(ScopeRead)(http.HandlerFunc(echoSubject)))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetCorrelationID(r.Context())))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1", nil))
	generated := rec.Header().Get("X-Correlation-ID")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/users/2", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidateUserID(t *testing.T) {
	id, err := ValidateUserID("111")
	require.NoError(t, err)
	assert.Equal(t, int64(111), id)

	for _, raw := range []string{"", "abc", "-5", "0"} {
		_, err := ValidateUserID(raw)
		assert.Error(t, err, raw)
	}
}

func TestValidateLimit(t *testing.T) {
	n, err := ValidateLimit("", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = ValidateLimit("10000", 50)
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, n)

	_, err = ValidateLimit("zero", 50)
	assert.Error(t, err)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

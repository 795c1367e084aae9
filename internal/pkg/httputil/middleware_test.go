package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func secretProtected(secret string) http.Handler {
	return RequireSecret(secret)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireSecretHeader(t *testing.T) {
	handler := secretProtected("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(SecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSecretBearer(t *testing.T) {
	handler := secretProtected("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSecretRejects(t *testing.T) {
	handler := secretProtected("s3cret")

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{name: "no credentials", setup: func(*http.Request) {}},
		{name: "wrong header", setup: func(r *http.Request) { r.Header.Set(SecretHeader, "nope") }},
		{name: "wrong bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{name: "wrong scheme", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic s3cret") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireSecretUnconfiguredFailsClosed(t *testing.T) {
	handler := secretProtected("")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(SecretHeader, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

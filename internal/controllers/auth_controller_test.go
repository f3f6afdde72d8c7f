package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestRequireAuth(t *testing.T) {
	auth := NewAuthController([]string{hashKey(t, "first-key"), hashKey(t, "second-key")})

	var gotTag any
	handler := auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotTag = r.Context().Value(core.CtxKeyApiKeyTag)
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		key        string
		wantStatus int
		wantTag    any
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "unknown key", key: "nope", wantStatus: http.StatusUnauthorized},
		{name: "first key", key: "first-key", wantStatus: http.StatusNoContent, wantTag: "key-0"},
		{name: "second key", key: "second-key", wantStatus: http.StatusNoContent, wantTag: "key-1"},
		{name: "cached key", key: "second-key", wantStatus: http.StatusNoContent, wantTag: "key-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTag = nil
			req := httptest.NewRequest(http.MethodGet, "/api/executions/x", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantTag, gotTag)
		})
	}
}

func TestRequireAuth_NoKeysConfigured(t *testing.T) {
	auth := NewAuthController(nil)
	called := false
	handler := auth.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

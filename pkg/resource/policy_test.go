package resource

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

func TestCasbinPerspectives(t *testing.T) {
	policy, err := NewCasbinPerspectives(
		map[session.Perspective]string{1: "member", 2: "auditor"},
		[]PerspectiveRule{
			{Perspective: "member", Pattern: "/*", Method: "*"},
			{Perspective: "auditor", Pattern: "/reports/:id", Method: http.MethodGet},
			{Perspective: "3", Pattern: "/agents/me", Method: http.MethodGet},
		},
	)
	require.NoError(t, err)

	tests := []struct {
		name        string
		perspective session.Perspective
		method      string
		path        string
		want        bool
	}{
		{"member any path", 1, http.MethodDelete, "/reports/7", true},
		{"auditor reads report", 2, http.MethodGet, "/reports/7", true},
		{"auditor cannot write report", 2, http.MethodPut, "/reports/7", false},
		{"auditor cannot list agents", 2, http.MethodGet, "/agents/me", false},
		{"unnamed perspective by number", 3, http.MethodGet, "/agents/me", true},
		{"unknown perspective", 9, http.MethodGet, "/agents/me", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := policy.Allows(tt.perspective, httptest.NewRequest(tt.method, tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, allowed)
		})
	}
}

func TestStaticPerspectives(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	allowed, err := AllowPerspectives(1, 2).Allows(2, req)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = AllowPerspectives(1, 2).Allows(3, req)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = AllowPerspectives().Allows(0, req)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCORSPolicyAllowedOrigin(t *testing.T) {
	base := CORSPolicy{RestrictedOrigin: "https://app.example.com", LocalOrigin: "http://localhost:3000"}

	assert.Equal(t, "https://app.example.com", base.AllowedOrigin())

	debug := base
	debug.Debug = true
	assert.Equal(t, "http://localhost:3000", debug.AllowedOrigin())

	open := debug
	open.DisableRestrictions = true
	assert.Equal(t, "*", open.AllowedOrigin())
}

func TestCORSPolicyHandler(t *testing.T) {
	policy := CORSPolicy{RestrictedOrigin: "https://app.example.com", Names: credential.DefaultNames()}
	assert.Contains(t, policy.AllowedHeaders(), "x-api-key")
	assert.Contains(t, policy.AllowedHeaders(), "session_id")

	handler := policy.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/agents/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

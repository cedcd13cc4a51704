package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noria-ai/noria/internal/auth"
	"github.com/noria-ai/noria/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestJWTManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	return mgr
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
	return r.WithContext(ctx)
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PropagatesClientID(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", captured)
	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := securityHeadersMiddleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	mgr := newTestJWTManager(t)
	handler := authMiddleware(mgr, okHandler())

	for _, path := range []string{"/health", "/auth/token"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAuthMiddleware_RejectsMissingAndMalformedHeaders(t *testing.T) {
	mgr := newTestJWTManager(t)
	handler := authMiddleware(mgr, okHandler())

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc123"},
		{"no token", "Bearer"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var apiErr model.APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
			assert.Equal(t, model.ErrCodeUnauthorized, apiErr.Error.Code)
		})
	}
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	mgr := newTestJWTManager(t)
	token, _, err := mgr.IssueToken(model.Operator{ID: 1, Name: "ops-test", Role: model.RoleAdmin})
	require.NoError(t, err)

	var claims *auth.Claims
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, claims)
	assert.Equal(t, "ops-test", claims.Subject)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestRequireRole(t *testing.T) {
	adminOnly := requireRole(model.RoleAdmin)(okHandler())

	t.Run("no claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/agent-toggles", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("member denied", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/admin/agent-toggles", nil),
			&auth.Claims{Role: model.RoleMember})
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var apiErr model.APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
		assert.Equal(t, model.ErrCodeForbidden, apiErr.Error.Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/admin/agent-toggles", nil),
			&auth.Claims{Role: model.RoleAdmin})
		rec := httptest.NewRecorder()
		adminOnly.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("member endpoint admits admin", func(t *testing.T) {
		memberOK := requireRole(model.RoleMember)(okHandler())
		req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/orchestrate", nil),
			&auth.Claims{Role: model.RoleAdmin})
		rec := httptest.NewRecorder()
		memberOK.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	handler := recoveryMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, model.ErrCodeInternalError, apiErr.Error.Code)
}

func TestDecodeJSON_EnforcesBodyLimitAndUnknownFields(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		body := `{"agent_name":"` + strings.Repeat("a", 256) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/orchestrate", strings.NewReader(body))
		rec := httptest.NewRecorder()

		var target model.OrchestrateRequest
		err := decodeJSON(rec, req, &target, 16)
		require.Error(t, err)

		handleDecodeError(rec, req, err)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/orchestrate", strings.NewReader(`{"bogus":true}`))
		rec := httptest.NewRecorder()

		var target model.OrchestrateRequest
		err := decodeJSON(rec, req, &target, 1024)
		require.Error(t, err)

		handleDecodeError(rec, req, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWriteList_HasMore(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/orchestration-logs", nil)

	rec := httptest.NewRecorder()
	writeList(rec, req, []int{1, 2}, 2, 2, 0)
	var full model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	assert.True(t, full.HasMore)

	rec = httptest.NewRecorder()
	writeList(rec, req, []int{1}, 1, 2, 0)
	var partial model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &partial))
	assert.False(t, partial.HasMore)
}

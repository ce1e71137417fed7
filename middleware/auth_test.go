package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/auth"
)

func newGuardedHandler(t *testing.T) (*auth.Validator, http.Handler, *bool) {
	t.Helper()
	validator := auth.NewValidator("test-secret")
	logger, _ := zap.NewDevelopment()
	m := NewAuthMiddleware(validator, logger)

	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		claims := GetClaims(r.Context())
		require.NotNil(t, claims, "claims must be on the context past the guard")
		w.WriteHeader(http.StatusOK)
	})

	return validator, m.RequireAdmin(next), &reached
}

func TestRequireAdmin(t *testing.T) {
	t.Run("ValidAdminToken", func(t *testing.T) {
		validator, handler, reached := newGuardedHandler(t)
		token, err := validator.Issue("ops@example.com", auth.RoleAdmin, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, *reached)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		_, handler, reached := newGuardedHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, *reached)
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		_, handler, reached := newGuardedHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, *reached)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		_, handler, reached := newGuardedHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, *reached)
	})

	t.Run("NonAdminRole", func(t *testing.T) {
		validator, handler, reached := newGuardedHandler(t)
		token, err := validator.Issue("viewer@example.com", "viewer", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, *reached)
	})

	t.Run("LowercaseBearerAccepted", func(t *testing.T) {
		validator, handler, _ := newGuardedHandler(t)
		token, err := validator.Issue("ops@example.com", auth.RoleAdmin, time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics", nil)
		req.Header.Set("Authorization", "bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestClaimsContext(t *testing.T) {
	claims := &auth.Claims{Role: auth.RoleAdmin}
	ctx := WithClaims(context.Background(), claims)

	assert.Same(t, claims, GetClaims(ctx))
	assert.Nil(t, GetClaims(context.Background()))
}

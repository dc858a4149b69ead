package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/service"
)

type mockTokenValidator struct {
	enabled      bool
	validateFunc func(ctx context.Context, token string) (*service.AdminClaims, error)
}

func (m *mockTokenValidator) Enabled() bool { return m.enabled }

func (m *mockTokenValidator) ValidateToken(ctx context.Context, token string) (*service.AdminClaims, error) {
	return m.validateFunc(ctx, token)
}

func TestAdminAuthMiddleware(t *testing.T) {
	validator := &mockTokenValidator{
		enabled: true,
		validateFunc: func(ctx context.Context, token string) (*service.AdminClaims, error) {
			if token == "good" {
				return &service.AdminClaims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1"}}, nil
			}
			return nil, apperrors.InvalidToken("Invalid or expired token")
		},
	}

	var seen *service.AdminClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAdminClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewAdminAuthMiddleware(validator).Handler(next)

	t.Run("accepts bearer token", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "jti-1", seen.ID)
	})

	t.Run("accepts query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/api/stream?token=good", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing authentication token")
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
	})

	t.Run("admin not configured", func(t *testing.T) {
		disabled := NewAdminAuthMiddleware(&mockTokenValidator{}).Handler(next)
		req := httptest.NewRequest(http.MethodDelete, "/sessions", nil)
		rec := httptest.NewRecorder()

		disabled.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "Admin not configured")
	})
}

func TestGetAdminClaims_Empty(t *testing.T) {
	assert.Nil(t, GetAdminClaims(context.Background()))
}

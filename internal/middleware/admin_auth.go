package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
	"github.com/openclaw/visitor-analytics-go/internal/service"
)

type contextKey string

const AdminClaimsContextKey contextKey = "adminClaims"

func GetAdminClaims(ctx context.Context) *service.AdminClaims {
	if claims, ok := ctx.Value(AdminClaimsContextKey).(*service.AdminClaims); ok {
		return claims
	}
	return nil
}

// TokenValidator is the part of the admin service the gate depends on.
type TokenValidator interface {
	Enabled() bool
	ValidateToken(ctx context.Context, token string) (*service.AdminClaims, error)
}

type AdminAuthMiddleware struct {
	validator TokenValidator
}

func NewAdminAuthMiddleware(validator TokenValidator) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{validator: validator}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.validator.Enabled() {
			httputil.WriteError(w, apperrors.Unavailable("Admin not configured"))
			return
		}

		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		claims, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.ErrCodeInvalidToken {
				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventAuthFailure,
					Details: map[string]interface{}{"path": r.URL.Path},
				})
			}
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), AdminClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads a bearer header, falling back to the token query
// parameter because EventSource cannot send headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}

// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"net/http"
	"strings"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/authz"
	"github.com/taskscope/taskscope/pkg/contextkeys"
	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/observability"
)

// AuthMiddleware validates bearer access tokens and attaches the resulting
// identity to the request context. Requests without a valid token are
// rejected before any handler runs.
type AuthMiddleware struct {
	tokens *auth.TokenManager
	logger *observability.Logger
}

// NewAuthMiddleware creates authentication middleware
func NewAuthMiddleware(tokens *auth.TokenManager, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// Require wraps a handler with bearer token authentication
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			httputil.WriteUnauthorized(w, "invalid authorization header")
			return
		}

		claims, err := m.tokens.ValidateToken(tokenString, auth.TokenTypeAccess)
		if err != nil {
			m.logger.WithError(err).Debug("token validation failed")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		identity := authz.Identity{
			UserID:        claims.UserID,
			Role:          auth.Role(claims.Role),
			Authenticated: true,
		}
		ctx := contextkeys.WithValue(r.Context(), contextkeys.IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the identity attached to the request, or an
// anonymous identity when authentication did not run
func GetIdentity(r *http.Request) authz.Identity {
	if identity, ok := contextkeys.Value(r.Context(), contextkeys.IdentityKey).(authz.Identity); ok {
		return identity
	}
	return authz.Anonymous()
}

// RequireAdmin rejects requests whose identity does not carry the admin
// role. It must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetIdentity(r).IsAdmin() {
			httputil.WriteForbidden(w, "permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/authz"
)

// serviceIdentity builds an identity from validated token claims, used on
// paths that act before the auth middleware has run
func serviceIdentity(claims *auth.Claims) authz.Identity {
	return authz.Identity{
		UserID:        claims.UserID,
		Role:          auth.Role(claims.Role),
		Authenticated: true,
	}
}

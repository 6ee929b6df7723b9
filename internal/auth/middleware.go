// Package auth resolves the pre-authenticated identity carried on each
// request. Authentication itself happens upstream; this layer only extracts
// who is calling.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// IdentityContextKey is the context key for storing the caller's identity
const IdentityContextKey contextKey = "identity"

// Identity is the session context every request carries: who the caller is,
// which organization they belong to, and which roles they hold.
type Identity struct {
	UserID         string
	OrganizationID string
	Roles          []string
}

// Middleware validates the Authorization header and adds the caller's
// identity to the request context. In mock mode the bearer token encodes
// the identity directly as "user|organization|role1,role2".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "Missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, `{"error": "Invalid authorization header format"}`, http.StatusUnauthorized)
			return
		}

		identity, ok := parseToken(parts[1])
		if !ok {
			http.Error(w, `{"error": "Invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseToken decodes the mock "user|organization|roles" token format.
func parseToken(token string) (Identity, bool) {
	segments := strings.Split(token, "|")
	if len(segments) != 3 {
		return Identity{}, false
	}

	userID := strings.TrimSpace(segments[0])
	orgID := strings.TrimSpace(segments[1])
	if userID == "" || orgID == "" {
		return Identity{}, false
	}

	var roles []string
	for _, role := range strings.Split(segments[2], ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return Identity{}, false
	}

	return Identity{UserID: userID, OrganizationID: orgID, Roles: roles}, true
}

// IdentityFromContext extracts the caller's identity from the context.
// Handlers behind Middleware can rely on it being present.
func IdentityFromContext(ctx context.Context) Identity {
	identity, ok := ctx.Value(IdentityContextKey).(Identity)
	if !ok {
		panic("identity not found in context")
	}
	return identity
}

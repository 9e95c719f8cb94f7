package rbac

import (
	"log/slog"
	"net/http"

	"github.com/supplyline/supplyline/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Roles  RoleSource
	Logger *slog.Logger
}

// RequireAny ensures the current role has at least one of the required permissions.
// An empty requirement list lets every request through.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.require("require any", perms, func(role Role) bool {
		return len(perms) == 0 || HasAnyPermission(role, perms)
	})
}

// RequireAll ensures the current role has all required permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.require("require all", perms, func(role Role) bool {
		return HasAllPermissions(role, perms)
	})
}

// RequireRole ensures the current role is one of roles.
func (m Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return m.require("require role", nil, func(role Role) bool {
		return len(roles) == 0 || roleIn(role, roles)
	})
}

func (m Middleware) require(op string, perms []Permission, allowed func(Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := m.currentRole(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			if allowed(role) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Debug("rbac "+op+" denied",
					slog.String("role", role.String()),
					slog.Any("permissions", perms),
					slog.String("path", r.URL.Path),
				)
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (Role, bool) {
	if m.Roles == nil {
		return "", false
	}
	role, ok := m.Roles.CurrentRole(r.Context())
	if !ok || !role.Valid() {
		return "", false
	}
	return role, true
}

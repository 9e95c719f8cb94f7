package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/supplyline/supplyline/internal/platform/httpx"
)

// PermissionsHandler exposes permission introspection for the current role.
type PermissionsHandler struct {
	logger *slog.Logger
	rbac   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermProfileView))
		r.Get("/", h.listPermissions)
		r.Get("/check", h.checkPermissions)
	})
}

type permissionsResponse struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

type checkResponse struct {
	Mode        string       `json:"mode"`
	Permissions []Permission `json:"permissions"`
	Granted     bool         `json:"granted"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	role, _ := h.rbac.currentRole(r)
	httpx.JSON(w, http.StatusOK, permissionsResponse{Role: role, Permissions: PermissionsFor(role)})
}

func (h *PermissionsHandler) checkPermissions(w http.ResponseWriter, r *http.Request) {
	role, _ := h.rbac.currentRole(r)
	query := r.URL.Query()
	perms := make([]Permission, 0, len(query["p"]))
	for _, raw := range query["p"] {
		perm, ok := ParsePermission(raw)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown permission "+raw)
			return
		}
		perms = append(perms, perm)
	}
	mode := strings.ToLower(strings.TrimSpace(query.Get("mode")))
	resp := checkResponse{Permissions: perms}
	switch mode {
	case "", "all":
		resp.Mode = "all"
		resp.Granted = HasAllPermissions(role, perms)
	case "any":
		resp.Mode = "any"
		resp.Granted = HasAnyPermission(role, perms)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "mode must be any or all")
		return
	}
	if h.logger != nil {
		h.logger.Debug("permission check", slog.String("role", role.String()), slog.String("mode", resp.Mode), slog.Bool("granted", resp.Granted))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

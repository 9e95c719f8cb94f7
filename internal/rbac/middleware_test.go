package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fixedRole struct {
	role Role
	ok   bool
}

func (f fixedRole) CurrentRole(context.Context) (Role, bool) {
	return f.role, f.ok
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	return res
}

func TestMiddlewareRequireAny(t *testing.T) {
	supplier := Middleware{Roles: fixedRole{role: RoleSupplier, ok: true}}
	require.Equal(t, http.StatusNoContent, serve(t, supplier.RequireAny(PermProductCreate, PermUserManage), "/").Code)
	require.Equal(t, http.StatusForbidden, serve(t, supplier.RequireAny(PermUserManage), "/").Code)
	require.Equal(t, http.StatusNoContent, serve(t, supplier.RequireAny(), "/").Code)
}

func TestMiddlewareRequireAll(t *testing.T) {
	user := Middleware{Roles: fixedRole{role: RoleUser, ok: true}}
	require.Equal(t, http.StatusNoContent, serve(t, user.RequireAll(PermOrderView, PermOrderEdit), "/").Code)
	require.Equal(t, http.StatusForbidden, serve(t, user.RequireAll(PermOrderView, PermProductEdit), "/").Code)
}

func TestMiddlewareRequireRole(t *testing.T) {
	admin := Middleware{Roles: fixedRole{role: RoleAdmin, ok: true}}
	user := Middleware{Roles: fixedRole{role: RoleUser, ok: true}}
	require.Equal(t, http.StatusNoContent, serve(t, admin.RequireRole(RoleAdmin), "/").Code)
	require.Equal(t, http.StatusForbidden, serve(t, user.RequireRole(RoleAdmin, RoleSupplier), "/").Code)
}

func TestMiddlewareWithoutRole(t *testing.T) {
	for _, mw := range []Middleware{{}, {Roles: fixedRole{}}, {Roles: fixedRole{role: "GHOST", ok: true}}} {
		res := serve(t, mw.RequireAny(PermProfileView), "/")
		require.Equal(t, http.StatusUnauthorized, res.Code)
	}
}

func TestPermissionsHandler(t *testing.T) {
	mw := Middleware{Roles: fixedRole{role: RoleSupplier, ok: true}}
	r := chi.NewRouter()
	r.Route("/permissions", NewPermissionsHandler(nil, mw).MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var list permissionsResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	require.Equal(t, RoleSupplier, list.Role)
	require.Equal(t, PermissionsFor(RoleSupplier), list.Permissions)

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/check?p=user:manage&p=product:edit&mode=any", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var check checkResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&check))
	require.True(t, check.Granted)
	require.Equal(t, "any", check.Mode)

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/check?p=user:manage&p=product:edit", nil))
	require.NoError(t, json.NewDecoder(res.Body).Decode(&check))
	require.False(t, check.Granted)
	require.Equal(t, "all", check.Mode)

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/permissions/check?p=bogus", nil))
	require.Equal(t, http.StatusBadRequest, res.Code)
}

package console

import (
	"net/http"
	"slices"

	"github.com/supplyline/supplyline/internal/rbac"
)

// RouteRule gates one backend resource for a set of HTTP methods.
type RouteRule struct {
	Resource string
	// Methods lists the HTTP methods the rule applies to. Empty matches all.
	Methods []string
	// AnyOf lists permissions of which the role needs at least one. Empty
	// means any authenticated role.
	AnyOf []rbac.Permission
	// Roles restricts the rule to the listed roles when non-empty.
	Roles []rbac.Role
}

// Allows reports whether role satisfies the rule.
func (r RouteRule) Allows(role rbac.Role) bool {
	if !role.Valid() {
		return false
	}
	if len(r.Roles) > 0 && !slices.Contains(r.Roles, role) {
		return false
	}
	return len(r.AnyOf) == 0 || rbac.HasAnyPermission(role, r.AnyOf)
}

func (r RouteRule) matches(resource, method string) bool {
	if r.Resource != resource {
		return false
	}
	return len(r.Methods) == 0 || slices.Contains(r.Methods, method)
}

// RouteRules is an ordered rule table; the first match wins.
type RouteRules []RouteRule

// Lookup returns the rule for resource and method.
func (rules RouteRules) Lookup(resource, method string) (RouteRule, bool) {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	for _, rule := range rules {
		if rule.matches(resource, method) {
			return rule, true
		}
	}
	return RouteRule{}, false
}

// Resources returns the distinct resources in table order.
func (rules RouteRules) Resources() []string {
	var out []string
	for _, rule := range rules {
		if !slices.Contains(out, rule.Resource) {
			out = append(out, rule.Resource)
		}
	}
	return out
}

var (
	readMethods  = []string{http.MethodGet}
	editMethods  = []string{http.MethodPut, http.MethodPatch}
	writeMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
)

// DefaultRouteRules mirrors the console screens of the supply chain backend.
func DefaultRouteRules() RouteRules {
	return RouteRules{
		{Resource: "products", Methods: readMethods},
		{Resource: "products", Methods: []string{http.MethodPost}, AnyOf: []rbac.Permission{rbac.PermProductCreate}},
		{Resource: "products", Methods: editMethods, AnyOf: []rbac.Permission{rbac.PermProductEdit}},
		{Resource: "products", Methods: []string{http.MethodDelete}, AnyOf: []rbac.Permission{rbac.PermProductDelete}},

		{Resource: "inventory", Methods: readMethods, AnyOf: []rbac.Permission{rbac.PermInventoryView}},
		{Resource: "inventory", Methods: writeMethods, AnyOf: []rbac.Permission{rbac.PermInventoryEdit}},

		{Resource: "orders", Methods: readMethods, AnyOf: []rbac.Permission{rbac.PermOrderView}},
		{Resource: "orders", Methods: []string{http.MethodPost}, AnyOf: []rbac.Permission{rbac.PermOrderCreate}},
		{Resource: "orders", Methods: []string{http.MethodPut, http.MethodPatch, http.MethodDelete}, AnyOf: []rbac.Permission{rbac.PermOrderEdit}},

		{Resource: "suppliers", Methods: readMethods},
		{Resource: "suppliers", Methods: []string{http.MethodPost}, AnyOf: []rbac.Permission{rbac.PermSupplierCreate}},
		{Resource: "suppliers", Methods: editMethods, AnyOf: []rbac.Permission{rbac.PermSupplierEdit}},
		{Resource: "suppliers", Methods: []string{http.MethodDelete}, AnyOf: []rbac.Permission{rbac.PermSupplierDelete}},

		{Resource: "users", Roles: []rbac.Role{rbac.RoleAdmin}, AnyOf: []rbac.Permission{rbac.PermUserManage}},

		{Resource: "dashboard", Methods: readMethods, AnyOf: []rbac.Permission{rbac.PermDashboardView}},

		{Resource: "profile", Methods: readMethods, AnyOf: []rbac.Permission{rbac.PermProfileView}},
		{Resource: "profile", Methods: editMethods, AnyOf: []rbac.Permission{rbac.PermProfileEdit}},
	}
}

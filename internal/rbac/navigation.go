package rbac

import "strings"

// NavItem describes one console navigation entry and the grant that reveals it.
type NavItem struct {
	Title string       `json:"title" yaml:"title"`
	Path  string       `json:"path" yaml:"path"`
	AnyOf []Permission `json:"-" yaml:"-"`
	Roles []Role       `json:"-" yaml:"-"`
}

var navigation = []NavItem{
	{Title: "Dashboard", Path: "/{role}/dashboard"},
	{Title: "Users", Path: "/admin/users", AnyOf: []Permission{PermUserManage}},
	{Title: "Products", Path: "/products", AnyOf: []Permission{PermProductCreate, PermProductEdit, PermProductDelete}},
	{Title: "Inventory", Path: "/inventory", AnyOf: []Permission{PermInventoryView}},
	{Title: "Orders", Path: "/orders", AnyOf: []Permission{PermOrderView}},
	{Title: "Suppliers", Path: "/suppliers", AnyOf: []Permission{PermSupplierCreate, PermSupplierEdit, PermSupplierDelete}},
	{Title: "Reports", Path: "/reports", Roles: []Role{RoleAdmin, RoleSupplier}},
	{Title: "Settings", Path: "/settings", AnyOf: []Permission{PermAdmin}},
	{Title: "Profile", Path: "/profile", AnyOf: []Permission{PermProfileView}},
}

// Navigation returns the entries visible to role. Unknown roles see nothing.
func Navigation(role Role) []NavItem {
	if !role.Valid() {
		return nil
	}
	items := make([]NavItem, 0, len(navigation))
	for _, item := range navigation {
		if !item.visibleTo(role) {
			continue
		}
		item.Path = strings.ReplaceAll(item.Path, "{role}", strings.ToLower(role.String()))
		items = append(items, item)
	}
	return items
}

func (n NavItem) visibleTo(role Role) bool {
	if len(n.Roles) > 0 && !roleIn(role, n.Roles) {
		return false
	}
	if len(n.AnyOf) > 0 && !HasAnyPermission(role, n.AnyOf) {
		return false
	}
	return true
}

func roleIn(role Role, roles []Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

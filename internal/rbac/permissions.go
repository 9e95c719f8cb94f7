package rbac

// Product permissions.
const (
	PermProductCreate Permission = "product:create"
	PermProductEdit   Permission = "product:edit"
	PermProductDelete Permission = "product:delete"
)

// Inventory permissions.
const (
	PermInventoryView Permission = "inventory:view"
	PermInventoryEdit Permission = "inventory:edit"
)

// Order permissions.
const (
	PermOrderView   Permission = "order:view"
	PermOrderCreate Permission = "order:create"
	PermOrderEdit   Permission = "order:edit"
)

// Supplier permissions.
const (
	PermSupplierCreate Permission = "supplier:create"
	PermSupplierEdit   Permission = "supplier:edit"
	PermSupplierDelete Permission = "supplier:delete"
)

// Core platform permissions.
const (
	PermUserManage    Permission = "user:manage"
	PermDashboardView Permission = "dashboard:view"
	PermProfileView   Permission = "profile:view"
	PermProfileEdit   Permission = "profile:edit"
	PermAdmin         Permission = "admin"
)

// AllPermissions lists the closed permission set in display order.
func AllPermissions() []Permission {
	return []Permission{
		PermProductCreate, PermProductEdit, PermProductDelete,
		PermInventoryView, PermInventoryEdit,
		PermOrderView, PermOrderCreate, PermOrderEdit,
		PermSupplierCreate, PermSupplierEdit, PermSupplierDelete,
		PermUserManage,
		PermDashboardView,
		PermProfileView, PermProfileEdit,
		PermAdmin,
	}
}

var rolePermissions = map[Role][]Permission{
	RoleAdmin: AllPermissions(),
	RoleUser: {
		PermInventoryView, PermInventoryEdit,
		PermOrderView, PermOrderCreate, PermOrderEdit,
		PermDashboardView,
		PermProfileView, PermProfileEdit,
	},
	RoleSupplier: {
		PermProductCreate, PermProductEdit, PermProductDelete,
		PermOrderView, PermOrderCreate, PermOrderEdit,
		PermProfileView, PermProfileEdit,
	},
}

var roleGrants = buildGrants(rolePermissions)

func buildGrants(table map[Role][]Permission) map[Role]map[Permission]struct{} {
	grants := make(map[Role]map[Permission]struct{}, len(table))
	for role, perms := range table {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		grants[role] = set
	}
	return grants
}

// PermissionsFor returns a copy of the permissions configured for role.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

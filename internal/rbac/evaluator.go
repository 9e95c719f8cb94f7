package rbac

// HasPermission reports whether role is granted perm. Unknown roles are granted nothing.
func HasPermission(role Role, perm Permission) bool {
	grants, ok := roleGrants[role]
	if !ok {
		return false
	}
	_, ok = grants[perm]
	return ok
}

// HasAnyPermission reports whether at least one of perms is granted to role.
func HasAnyPermission(role Role, perms []Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is granted to role.
// An empty request is vacuously satisfied for any known role.
func HasAllPermissions(role Role, perms []Permission) bool {
	if _, ok := roleGrants[role]; !ok {
		return false
	}
	for _, p := range perms {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

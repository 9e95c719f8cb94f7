package rbac

import (
	"context"
	"strings"
)

// Role is the coarse permission grouping assigned to a user.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleUser     Role = "USER"
	RoleSupplier Role = "SUPPLIER"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleUser, RoleSupplier}
}

// ParseRole normalizes raw input into a known Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", false
	}
	return role, true
}

// Valid reports whether the role is part of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleSupplier:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// Permission represents an atomic capability.
type Permission string

// ParsePermission normalizes raw input into a known Permission.
func ParsePermission(raw string) (Permission, bool) {
	perm := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if !perm.Valid() {
		return "", false
	}
	return perm, true
}

// Valid reports whether the permission is part of the closed permission set.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions() {
		if p == known {
			return true
		}
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// RoleSource resolves the role of the actor bound to ctx.
type RoleSource interface {
	CurrentRole(ctx context.Context) (Role, bool)
}

package session

import (
	"errors"
	"strings"
	"time"

	"github.com/supplyline/supplyline/internal/rbac"
)

// Domain errors
var (
	ErrInvalidUser  = errors.New("session: invalid user")
	ErrInvalidToken = errors.New("session: token required")
)

// User is the authenticated identity mirrored from the auth backend.
type User struct {
	ID          string    `json:"id" yaml:"id"`
	Email       string    `json:"email" yaml:"email"`
	Role        rbac.Role `json:"role" yaml:"role"`
	DisplayName string    `json:"fullName" yaml:"fullName"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

// Validate checks the fields a session relies on.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.Join(ErrInvalidUser, errors.New("id required"))
	}
	if !u.Role.Valid() {
		return errors.Join(ErrInvalidUser, errors.New("unknown role "+string(u.Role)))
	}
	return nil
}

// Session is an immutable snapshot of the authentication state.
// Authenticated is true iff both User and Token are set.
type Session struct {
	Authenticated bool   `json:"isAuthenticated" yaml:"isAuthenticated"`
	User          *User  `json:"user" yaml:"user"`
	Token         string `json:"-" yaml:"-"`
}

// Role returns the role of the session user.
func (s Session) Role() (rbac.Role, bool) {
	if !s.Authenticated || s.User == nil {
		return "", false
	}
	return s.User.Role, true
}

// IsInRole reports whether the session user holds one of roles.
func (s Session) IsInRole(roles ...rbac.Role) bool {
	role, ok := s.Role()
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Can reports whether the session user is granted perm.
func (s Session) Can(perm rbac.Permission) bool {
	role, ok := s.Role()
	return ok && rbac.HasPermission(role, perm)
}

func (s Session) clone() Session {
	if s.User == nil {
		return s
	}
	u := *s.User
	s.User = &u
	return s
}

// Event names a session lifecycle transition.
type Event string

const (
	EventRestored     Event = "restored"
	EventRestoreEmpty Event = "restore_empty"
	EventCorrupt      Event = "corrupt"
	EventLogin        Event = "login"
	EventLogout       Event = "logout"
	EventForcedLogout Event = "forced_logout"
	EventUserUpdated  Event = "user_updated"
)

// Observer receives session lifecycle events.
type Observer interface {
	ObserveSession(event Event)
}

package authserver

import (
	"errors"
	"time"

	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

// Domain errors
var (
	ErrInvalidCredentials = errors.New("authserver: invalid credentials")
	ErrNotVerified        = errors.New("authserver: email not verified")
	ErrEmailTaken         = errors.New("authserver: email already registered")
	ErrNotFound           = errors.New("authserver: account not found")
	ErrInvalidCode        = errors.New("authserver: invalid verification code")
	ErrCodeExpired        = errors.New("authserver: verification code expired")
	ErrInvalidToken       = errors.New("authserver: invalid token")
	ErrRoleNotAllowed     = errors.New("authserver: role not allowed for self registration")
)

// Account represents a registered console user.
type Account struct {
	ID                    string
	Email                 string
	PasswordHash          string
	FullName              string
	Role                  rbac.Role
	Verified              bool
	VerificationCode      string
	VerificationExpiresAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile returns the public user record for the account.
func (a *Account) Profile() session.User {
	return session.User{
		ID:          a.ID,
		Email:       a.Email,
		Role:        a.Role,
		DisplayName: a.FullName,
		CreatedAt:   a.CreatedAt,
	}
}

// LoginResult is the token and user returned by a successful login.
type LoginResult struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

package authclient

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Client.
var (
	// ErrInvalidCredentials means the backend rejected a login attempt.
	ErrInvalidCredentials = errors.New("authclient: invalid credentials")
	// ErrUnauthorized means the bearer token is invalid or expired.
	ErrUnauthorized = errors.New("authclient: unauthorized")
	// ErrValidation means the request was rejected as malformed.
	ErrValidation = errors.New("authclient: validation failed")
	// ErrForbidden means the account may not perform the call, e.g. it is unverified.
	ErrForbidden = errors.New("authclient: forbidden")
	// ErrConflict means the resource already exists.
	ErrConflict = errors.New("authclient: conflict")
	// ErrUnavailable means the backend could not be reached or failed.
	ErrUnavailable = errors.New("authclient: backend unavailable")
	// ErrMalformedResponse means the backend answered with an unusable body.
	ErrMalformedResponse = errors.New("authclient: malformed response")
)

// APIError carries the status and problem details of a failed call.
type APIError struct {
	Status int
	Title  string
	Detail string
	kind   error
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %s", e.kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: status %d", e.kind, e.Status)
}

// Unwrap exposes the sentinel matching the status.
func (e *APIError) Unwrap() error {
	return e.kind
}

// Package console hosts the authenticated admin console: route guard, auth
// endpoints and the permission-gated proxy to the supply chain backend.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/session"
)

// LoginPath is where unauthenticated clients are sent.
const LoginPath = "/login"

// Errors surfaced by console operations.
var (
	ErrNoSession      = errors.New("console: no active session")
	ErrSessionExpired = errors.New("console: session expired")
)

// AuthBackend is the subset of the auth REST API the console calls.
type AuthBackend interface {
	Login(ctx context.Context, req authclient.LoginRequest) (authclient.LoginResponse, error)
	Register(ctx context.Context, req authclient.RegisterRequest) (session.User, error)
	Verify(ctx context.Context, req authclient.VerifyRequest) (session.User, error)
	Profile(ctx context.Context, token string) (session.User, error)
}

// Recorder receives access and upstream counters.
type Recorder interface {
	ObserveDenied(reason string)
	ObserveUpstream(resource string, status int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDenied(string)        {}
func (nopRecorder) ObserveUpstream(string, int) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// statusClientClosedRequest is the nginx convention for a request whose client
// went away before a response was ready.
const statusClientClosedRequest = 499

// respondBackendError maps auth client errors onto problem responses.
func respondBackendError(w http.ResponseWriter, err error) {
	var apiErr *authclient.APIError
	detail := ""
	if errors.As(err, &apiErr) {
		detail = apiErr.Detail
	}
	switch {
	case errors.Is(err, authclient.ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
	case errors.Is(err, authclient.ErrUnauthorized):
		httpx.LoginRequired(w, LoginPath, "session expired")
	case errors.Is(err, authclient.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", detail)
	case errors.Is(err, authclient.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", detail)
	case errors.Is(err, authclient.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authclient.ErrUnavailable), errors.Is(err, authclient.ErrMalformedResponse):
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "auth backend unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusGatewayTimeout, "Gateway Timeout", "auth backend timed out")
	case errors.Is(err, context.Canceled):
		w.WriteHeader(statusClientClosedRequest)
	default:
		httpx.RespondError(w, err)
	}
}

package console

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

var (
	adminUser    = session.User{ID: "u-admin", Email: "admin@supplyline.test", Role: rbac.RoleAdmin, DisplayName: "Admin"}
	buyerUser    = session.User{ID: "u-buyer", Email: "buyer@supplyline.test", Role: rbac.RoleUser, DisplayName: "Buyer"}
	supplierUser = session.User{ID: "u-supplier", Email: "vendor@supplyline.test", Role: rbac.RoleSupplier, DisplayName: "Vendor"}
)

type fakeBackend struct {
	mu           sync.Mutex
	loginResp    authclient.LoginResponse
	loginErr     error
	profile      session.User
	profileErr   error
	profileCalls atomic.Int32
	// entered and release coordinate a blocking Profile call when set.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBackend) Login(_ context.Context, _ authclient.LoginRequest) (authclient.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginResp, f.loginErr
}

func (f *fakeBackend) Register(_ context.Context, req authclient.RegisterRequest) (session.User, error) {
	if req.Email == "taken@supplyline.test" {
		return session.User{}, fmt.Errorf("%w: email already registered", authclient.ErrConflict)
	}
	return session.User{ID: "u-new", Email: req.Email, Role: rbac.RoleUser, DisplayName: req.FullName}, nil
}

func (f *fakeBackend) Verify(_ context.Context, req authclient.VerifyRequest) (session.User, error) {
	return session.User{ID: "u-new", Email: req.Email, Role: rbac.RoleUser}, nil
}

func (f *fakeBackend) Profile(_ context.Context, _ string) (session.User, error) {
	f.profileCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, f.profileErr
}

type countingRecorder struct {
	mu       sync.Mutex
	denied   map[string]int
	upstream map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{denied: map[string]int{}, upstream: map[string]int{}}
}

func (c *countingRecorder) ObserveDenied(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[reason]++
}

func (c *countingRecorder) ObserveUpstream(resource string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstream[resource+":"+http.StatusText(status)]++
}

func newReadyStore(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore(session.NewMemoryStorage(), session.Options{})
	require.NoError(t, store.Restore(context.Background()))
	return store
}

func newLoggedInStore(t *testing.T, token string, user session.User) *session.Store {
	t.Helper()
	store := newReadyStore(t)
	require.NoError(t, store.Login(context.Background(), token, user))
	return store
}

func newConsoleRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

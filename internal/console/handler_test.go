package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

type sessionBody struct {
	Ready         bool              `json:"ready"`
	Authenticated bool              `json:"isAuthenticated"`
	User          *session.User     `json:"user"`
	Permissions   []rbac.Permission `json:"permissions"`
}

func TestLoginPersistsSession(t *testing.T) {
	store := newReadyStore(t)
	backend := &fakeBackend{loginResp: authclient.LoginResponse{Token: "tok-buyer", User: buyerUser}}
	router := newConsoleRouter(NewHandler(nil, store, backend, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/login", `{"email":"buyer@supplyline.test","password":"secret-pass"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body sessionBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, body.Authenticated)
	assert.Equal(t, buyerUser.ID, body.User.ID)
	assert.ElementsMatch(t, rbac.PermissionsFor(rbac.RoleUser), body.Permissions)
	assert.NotContains(t, rr.Body.String(), "tok-buyer")

	snap := store.Current()
	require.True(t, snap.Authenticated)
	require.Equal(t, "tok-buyer", snap.Token)
}

func TestLoginRejectedLeavesSessionEmpty(t *testing.T) {
	store := newReadyStore(t)
	backend := &fakeBackend{loginErr: fmt.Errorf("%w: status 401", authclient.ErrInvalidCredentials)}
	router := newConsoleRouter(NewHandler(nil, store, backend, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/login", `{"email":"buyer@supplyline.test","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, store.IsAuthenticated())
}

func TestLoginValidation(t *testing.T) {
	store := newReadyStore(t)
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/login", `{"email":"nope","password":""}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Contains(t, problem.Detail, "Email email")
	assert.Contains(t, problem.Detail, "Password required")

	rr = doRequest(t, router, http.MethodPost, "/auth/login", `{"email":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginBackendDownIsBadGateway(t *testing.T) {
	store := newReadyStore(t)
	backend := &fakeBackend{loginErr: fmt.Errorf("%w: dial tcp", authclient.ErrUnavailable)}
	router := newConsoleRouter(NewHandler(nil, store, backend, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/login", `{"email":"buyer@supplyline.test","password":"secret-pass"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRegisterAndVerify(t *testing.T) {
	store := newReadyStore(t)
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/register", `{"email":"new@supplyline.test","password":"longenough","fullName":"New"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/auth/register", `{"email":"taken@supplyline.test","password":"longenough"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/auth/register", `{"email":"admin2@supplyline.test","password":"longenough","role":"ADMIN"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/auth/verify", `{"email":"new@supplyline.test","code":"12ab"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/auth/verify", `{"email":"new@supplyline.test","code":"123456"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, store.IsAuthenticated())
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := newLoggedInStore(t, "tok-admin", adminUser)
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.False(t, store.IsAuthenticated())

	rr = doRequest(t, router, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestShowSession(t *testing.T) {
	store := session.NewStore(session.NewMemoryStorage(), session.Options{})
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body sessionBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.False(t, body.Ready)
	assert.False(t, body.Authenticated)
	assert.Nil(t, body.User)
	assert.Empty(t, body.Permissions)
}

func TestNavigationForSupplier(t *testing.T) {
	store := newLoggedInStore(t, "tok-supplier", supplierUser)
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodGet, "/navigation", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var items []rbac.NavItem
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&items))
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	assert.Equal(t, []string{"Dashboard", "Products", "Orders", "Reports", "Profile"}, titles)
	assert.Equal(t, "/supplier/dashboard", items[0].Path)
}

func TestNavigationRequiresSession(t *testing.T) {
	store := newReadyStore(t)
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{}, nil, nil))

	rr := doRequest(t, router, http.MethodGet, "/navigation", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func TestRefreshEndpointUpdatesUser(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	renamed := buyerUser
	renamed.DisplayName = "Head Buyer"
	router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{profile: renamed}, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/session/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Head Buyer", store.Current().User.DisplayName)
	require.Equal(t, "tok-buyer", store.Current().Token)
}

func TestRefreshEndpointForcesLogoutOn401(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	backend := &fakeBackend{profileErr: fmt.Errorf("%w: status 401", authclient.ErrUnauthorized)}
	router := newConsoleRouter(NewHandler(nil, store, backend, nil, nil))

	rr := doRequest(t, router, http.MethodPost, "/session/refresh", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, LoginPath, rr.Header().Get("Location"))
	require.False(t, store.IsAuthenticated())
}

func TestRefreshEndpointMapsContextErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"deadline": {err: fmt.Errorf("authclient: GET /auth/profile: %w", context.DeadlineExceeded), status: http.StatusGatewayTimeout},
		"canceled": {err: fmt.Errorf("authclient: GET /auth/profile: %w", context.Canceled), status: statusClientClosedRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := newLoggedInStore(t, "tok-buyer", buyerUser)
			router := newConsoleRouter(NewHandler(nil, store, &fakeBackend{profileErr: tc.err}, nil, nil))

			rr := doRequest(t, router, http.MethodPost, "/session/refresh", "")
			require.Equal(t, tc.status, rr.Code)
			require.True(t, store.IsAuthenticated())
		})
	}
}

func TestRefresherKeepsSessionOnTransientFailure(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	backend := &fakeBackend{profileErr: fmt.Errorf("%w: status 502", authclient.ErrUnavailable)}
	refresher := NewRefresher(store, backend, nil)

	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, authclient.ErrUnavailable)
	require.True(t, store.IsAuthenticated())
}

func TestRefresherWithoutSession(t *testing.T) {
	refresher := NewRefresher(newReadyStore(t), &fakeBackend{}, nil)
	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRefresherCollapsesConcurrentCalls(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	backend := &fakeBackend{
		profile: buyerUser,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	refresher := NewRefresher(store, backend, nil)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := refresher.Refresh(context.Background())
		errs <- err
	}()
	<-backend.entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := refresher.Refresh(context.Background())
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, backend.profileCalls.Load())
}

func TestRefresherCanceledCallerDoesNotFailSharedCall(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	renamed := buyerUser
	renamed.DisplayName = "Buyer Renamed"
	backend := &fakeBackend{
		profile: renamed,
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	refresher := NewRefresher(store, backend, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := refresher.Refresh(ctxA)
		errA <- err
	}()
	<-backend.entered

	type result struct {
		snap session.Session
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		snap, err := refresher.Refresh(context.Background())
		resB <- result{snap, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(backend.release)
	b := <-resB
	require.NoError(t, b.err)
	require.Equal(t, "Buyer Renamed", b.snap.User.DisplayName)
	require.Equal(t, "Buyer Renamed", store.Current().User.DisplayName)
	require.EqualValues(t, 1, backend.profileCalls.Load())
}

func TestRefresherIgnoresResultForReplacedSession(t *testing.T) {
	store := newLoggedInStore(t, "tok-old", buyerUser)
	backend := &fakeBackend{
		profile: buyerUser,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	refresher := NewRefresher(store, backend, nil)

	done := make(chan session.Session, 1)
	go func() {
		snap, _ := refresher.Refresh(context.Background())
		done <- snap
	}()
	<-backend.entered
	require.NoError(t, store.Login(context.Background(), "tok-new", supplierUser))
	close(backend.release)

	snap := <-done
	require.Equal(t, "tok-new", snap.Token)
	require.Equal(t, rbac.RoleSupplier, store.Current().User.Role)
}

func TestRefresherRunStopsWithContext(t *testing.T) {
	store := newLoggedInStore(t, "tok-buyer", buyerUser)
	renamed := buyerUser
	renamed.DisplayName = "Ticked"
	backend := &fakeBackend{profile: renamed}
	refresher := NewRefresher(store, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return store.Current().User.DisplayName == "Ticked"
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supplyline/supplyline/internal/rbac"
)

var errStorageDown = errors.New("storage down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleUser(role rbac.Role) User {
	return User{
		ID:          "42",
		Email:       "ops@supplyline.test",
		Role:        role,
		DisplayName: "Ops Lead",
		CreatedAt:   time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func encoded(t *testing.T, u User) string {
	t.Helper()
	raw, err := json.Marshal(u)
	require.NoError(t, err)
	return string(raw)
}

type recordingObserver struct {
	events []Event
}

func (o *recordingObserver) ObserveSession(e Event) {
	o.events = append(o.events, e)
}

// flakyStorage wraps a Storage and fails the configured operations.
type flakyStorage struct {
	Storage
	failGet    bool
	failSet    map[string]bool
	failRemove bool
}

func (f *flakyStorage) Get(ctx context.Context, key string) (string, error) {
	if f.failGet {
		return "", errStorageDown
	}
	return f.Storage.Get(ctx, key)
}

func (f *flakyStorage) Set(ctx context.Context, key, value string) error {
	if f.failSet[key] {
		return errStorageDown
	}
	return f.Storage.Set(ctx, key, value)
}

func (f *flakyStorage) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errStorageDown
	}
	return f.Storage.Remove(ctx, key)
}

func TestRestoreWithoutPersistedData(t *testing.T) {
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.False(t, store.Ready())

	require.NoError(t, store.Restore(context.Background()))

	require.True(t, store.Ready())
	require.False(t, store.IsAuthenticated())
	require.Equal(t, Session{}, store.Current())
}

func TestRestoreValidSession(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	user := sampleUser(rbac.RoleUser)
	require.NoError(t, storage.Set(ctx, "auth_token", "tok-1"))
	require.NoError(t, storage.Set(ctx, "auth_user", encoded(t, user)))

	store := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, store.Restore(ctx))

	got := store.Current()
	require.True(t, got.Authenticated)
	require.Equal(t, "tok-1", got.Token)
	require.Equal(t, user, *got.User)
}

func TestRestoreCorruptUserClearsStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, "auth_token", "tok-1"))
	require.NoError(t, storage.Set(ctx, "auth_user", "{not json"))
	observer := &recordingObserver{}

	store := NewStore(storage, Options{Logger: testLogger(), Observer: observer})
	require.NoError(t, store.Restore(ctx))

	require.False(t, store.IsAuthenticated())
	require.Equal(t, 0, storage.Len())
	require.Equal(t, []Event{EventCorrupt}, observer.events)

	require.NoError(t, store.Restore(ctx))
	require.False(t, store.IsAuthenticated())
	require.Equal(t, Session{}, store.Current())
}

func TestRestoreUserWithUnknownRoleIsCorrupt(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, "auth_token", "tok-1"))
	require.NoError(t, storage.Set(ctx, "auth_user", `{"id":"1","role":"GUEST"}`))

	store := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, store.Restore(ctx))
	require.False(t, store.IsAuthenticated())
	require.Equal(t, 0, storage.Len())
}

func TestRestoreMissingHalfClearsOther(t *testing.T) {
	ctx := context.Background()

	tokenOnly := NewMemoryStorage()
	require.NoError(t, tokenOnly.Set(ctx, "auth_token", "tok-1"))
	store := NewStore(tokenOnly, Options{Logger: testLogger()})
	require.NoError(t, store.Restore(ctx))
	require.False(t, store.IsAuthenticated())
	require.Equal(t, 0, tokenOnly.Len())

	userOnly := NewMemoryStorage()
	require.NoError(t, userOnly.Set(ctx, "auth_user", encoded(t, sampleUser(rbac.RoleAdmin))))
	store = NewStore(userOnly, Options{Logger: testLogger()})
	require.NoError(t, store.Restore(ctx))
	require.False(t, store.IsAuthenticated())
	require.Equal(t, 0, userOnly.Len())
}

func TestRestoreStorageFailureStillReady(t *testing.T) {
	storage := &flakyStorage{Storage: NewMemoryStorage(), failGet: true}
	store := NewStore(storage, Options{Logger: testLogger()})

	err := store.Restore(context.Background())
	require.ErrorIs(t, err, errStorageDown)
	require.True(t, store.Ready())
	require.False(t, store.IsAuthenticated())
}

func TestLoginPersistsAndAuthenticates(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})
	user := sampleUser(rbac.RoleSupplier)

	require.NoError(t, store.Login(ctx, "tok-9", user))

	got := store.Current()
	require.True(t, got.Authenticated)
	require.Equal(t, "tok-9", got.Token)
	require.Equal(t, user, *got.User)

	token, err := storage.Get(ctx, "auth_token")
	require.NoError(t, err)
	require.Equal(t, "tok-9", token)
	raw, err := storage.Get(ctx, "auth_user")
	require.NoError(t, err)
	require.JSONEq(t, encoded(t, user), raw)

	restored := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, restored.Restore(ctx))
	require.Equal(t, got, restored.Current())
}

func TestLoginReplacesPriorSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok-a", sampleUser(rbac.RoleAdmin)))

	second := User{ID: "7", Email: "vendor@supplyline.test", Role: rbac.RoleSupplier}
	require.NoError(t, store.Login(ctx, "tok-b", second))

	got := store.Current()
	require.Equal(t, "tok-b", got.Token)
	require.Equal(t, second, *got.User)
	require.True(t, store.IsInRole(rbac.RoleSupplier))
	require.False(t, store.IsInRole(rbac.RoleAdmin))
}

func TestLoginRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})

	require.ErrorIs(t, store.Login(ctx, "", sampleUser(rbac.RoleUser)), ErrInvalidToken)
	require.ErrorIs(t, store.Login(ctx, "tok", User{ID: "1", Role: "GUEST"}), ErrInvalidUser)
	require.ErrorIs(t, store.Login(ctx, "tok", User{Role: rbac.RoleUser}), ErrInvalidUser)
	require.False(t, store.IsAuthenticated())
}

func TestLoginStorageFailureLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage()
	storage := &flakyStorage{Storage: mem, failSet: map[string]bool{"auth_user": true}}
	store := NewStore(storage, Options{Logger: testLogger()})

	err := store.Login(ctx, "tok-1", sampleUser(rbac.RoleUser))
	require.ErrorIs(t, err, errStorageDown)
	require.False(t, store.IsAuthenticated())
	require.Equal(t, 0, mem.Len())
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})
	pristine := store.Current()

	require.NoError(t, store.Login(ctx, "tok-1", sampleUser(rbac.RoleAdmin)))
	require.NoError(t, store.Logout(ctx))

	require.Equal(t, pristine, store.Current())
	require.Equal(t, 0, storage.Len())
}

func TestLogoutWhenUnauthenticated(t *testing.T) {
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.NoError(t, store.Logout(context.Background()))
	require.NoError(t, store.Logout(context.Background()))
	require.Equal(t, Session{}, store.Current())
}

func TestLogoutResetsMemoryWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{Storage: NewMemoryStorage()}
	store := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok-1", sampleUser(rbac.RoleUser)))

	storage.failRemove = true
	require.ErrorIs(t, store.Logout(ctx), errStorageDown)
	require.False(t, store.IsAuthenticated())
}

func TestUpdateUserWhileUnauthenticatedIsNoop(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})

	require.NoError(t, store.UpdateUser(ctx, sampleUser(rbac.RoleAdmin)))

	got := store.Current()
	require.False(t, got.Authenticated)
	require.Nil(t, got.User)
	require.Equal(t, 0, storage.Len())
}

func TestUpdateUserKeepsToken(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok-1", sampleUser(rbac.RoleUser)))

	refreshed := sampleUser(rbac.RoleUser)
	refreshed.DisplayName = "Ops Lead (Night)"
	require.NoError(t, store.UpdateUser(ctx, refreshed))

	got := store.Current()
	require.True(t, got.Authenticated)
	require.Equal(t, "tok-1", got.Token)
	require.Equal(t, "Ops Lead (Night)", got.User.DisplayName)

	raw, err := storage.Get(ctx, "auth_user")
	require.NoError(t, err)
	require.JSONEq(t, encoded(t, refreshed), raw)
}

func TestUpdateUserStorageFailureKeepsPriorUser(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{Storage: NewMemoryStorage(), failSet: map[string]bool{}}
	store := NewStore(storage, Options{Logger: testLogger()})
	original := sampleUser(rbac.RoleUser)
	require.NoError(t, store.Login(ctx, "tok-1", original))

	storage.failSet["auth_user"] = true
	changed := original
	changed.DisplayName = "Changed"
	require.ErrorIs(t, store.UpdateUser(ctx, changed), errStorageDown)
	require.Equal(t, original, *store.Current().User)
}

func TestForceLogoutOnlyMatchingToken(t *testing.T) {
	ctx := context.Background()
	observer := &recordingObserver{}
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger(), Observer: observer})
	require.NoError(t, store.Login(ctx, "tok-new", sampleUser(rbac.RoleUser)))

	cleared, err := store.ForceLogout(ctx, "tok-old")
	require.NoError(t, err)
	require.False(t, cleared)
	require.True(t, store.IsAuthenticated())

	cleared, err = store.ForceLogout(ctx, "tok-new")
	require.NoError(t, err)
	require.True(t, cleared)
	require.False(t, store.IsAuthenticated())
	require.Equal(t, []Event{EventLogin, EventForcedLogout}, observer.events)
}

func TestUpdateUserForIgnoresReplacedSession(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok-old", sampleUser(rbac.RoleUser)))
	require.NoError(t, store.Logout(ctx))

	vendor := sampleUser(rbac.RoleSupplier)
	vendor.ID = "77"
	require.NoError(t, store.Login(ctx, "tok-new", vendor))

	stale := sampleUser(rbac.RoleAdmin)
	written, err := store.UpdateUserFor(ctx, "tok-old", stale)
	require.NoError(t, err)
	require.False(t, written)
	require.Equal(t, vendor, *store.Current().User)
	raw, err := storage.Get(ctx, "auth_user")
	require.NoError(t, err)
	require.JSONEq(t, encoded(t, vendor), raw)

	vendor.DisplayName = "Vendor Ops"
	written, err = store.UpdateUserFor(ctx, "tok-new", vendor)
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, "Vendor Ops", store.Current().User.DisplayName)
	require.Equal(t, "tok-new", store.Current().Token)
}

func TestUpdateUserForWithoutSession(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{Logger: testLogger()})

	written, err := store.UpdateUserFor(ctx, "", sampleUser(rbac.RoleUser))
	require.NoError(t, err)
	require.False(t, written)
	require.Zero(t, storage.Len())

	_, err = store.UpdateUserFor(ctx, "tok", User{ID: "1", Role: "root"})
	require.ErrorIs(t, err, ErrInvalidUser)
}

func TestConcurrentMutationsKeepSnapshotsConsistent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})

	const (
		writers = 4
		readers = 8
		rounds  = 200
	)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan Session, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Current()
				if snap.Authenticated != (snap.User != nil && snap.Token != "") {
					violations <- snap
					return
				}
				if !snap.Authenticated && snap.IsInRole(rbac.RoleAdmin, rbac.RoleUser, rbac.RoleSupplier) {
					violations <- snap
					return
				}
				store.IsInRole(rbac.RoleAdmin)
				store.IsAuthenticated()
			}
		}()
	}

	var writersWG sync.WaitGroup
	roles := []rbac.Role{rbac.RoleAdmin, rbac.RoleUser, rbac.RoleSupplier}
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			for i := 0; i < rounds; i++ {
				user := sampleUser(roles[(w+i)%len(roles)])
				token := "tok-" + string(rune('a'+w))
				if err := store.Login(ctx, token, user); err != nil {
					t.Error(err)
					return
				}
				user.DisplayName = "Renamed"
				if err := store.UpdateUser(ctx, user); err != nil {
					t.Error(err)
					return
				}
				if _, err := store.UpdateUserFor(ctx, token, user); err != nil {
					t.Error(err)
					return
				}
				if err := store.Logout(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}

	writersWG.Wait()
	close(stop)
	wg.Wait()
	close(violations)

	for snap := range violations {
		t.Fatalf("inconsistent snapshot: %+v", snap)
	}
	require.False(t, store.IsAuthenticated())
}

func TestIsInRole(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.False(t, store.IsInRole(rbac.RoleAdmin, rbac.RoleUser, rbac.RoleSupplier))

	require.NoError(t, store.Login(ctx, "tok", sampleUser(rbac.RoleUser)))
	require.True(t, store.IsInRole(rbac.RoleUser))
	require.True(t, store.IsInRole(rbac.RoleAdmin, rbac.RoleUser))
	require.False(t, store.IsInRole(rbac.RoleAdmin))
	require.False(t, store.IsInRole())
}

func TestCurrentReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok", sampleUser(rbac.RoleUser)))

	snap := store.Current()
	snap.User.Role = rbac.RoleAdmin
	require.False(t, store.IsInRole(rbac.RoleAdmin))
}

func TestKeyPrefix(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, Options{KeyPrefix: "scm.", Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok", sampleUser(rbac.RoleUser)))

	_, err := storage.Get(ctx, "scm.auth_token")
	require.NoError(t, err)
	_, err = storage.Get(ctx, "auth_token")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCurrentRolePrefersContextSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage(), Options{Logger: testLogger()})
	require.NoError(t, store.Login(ctx, "tok", sampleUser(rbac.RoleUser)))

	role, ok := store.CurrentRole(ctx)
	require.True(t, ok)
	require.Equal(t, rbac.RoleUser, role)

	bound := ContextWithSession(ctx, Session{})
	_, ok = store.CurrentRole(bound)
	require.False(t, ok)
}

func TestSessionCan(t *testing.T) {
	admin := Session{Authenticated: true, User: &User{ID: "1", Role: rbac.RoleAdmin}, Token: "t"}
	require.True(t, admin.Can(rbac.PermUserManage))
	require.False(t, Session{}.Can(rbac.PermProfileView))
}

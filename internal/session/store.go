package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/supplyline/supplyline/internal/rbac"
)

const (
	tokenKey = "auth_token"
	userKey  = "auth_user"
)

// Options configures a Store.
type Options struct {
	// KeyPrefix namespaces the two persisted keys.
	KeyPrefix string
	Logger    *slog.Logger
	Observer  Observer
}

// Store is the single owner of the current Session. Every mutation writes
// through to Storage before the in-memory state changes.
type Store struct {
	mu       sync.RWMutex
	storage  Storage
	tokenKey string
	userKey  string
	logger   *slog.Logger
	observer Observer
	current  Session
	ready    bool
}

// NewStore constructs an unauthenticated, not yet restored Store.
func NewStore(storage Storage, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage:  storage,
		tokenKey: opts.KeyPrefix + tokenKey,
		userKey:  opts.KeyPrefix + userKey,
		logger:   logger,
		observer: opts.Observer,
	}
}

// Restore loads the persisted session. A missing or malformed record leaves
// the store unauthenticated with the persisted keys cleared; only storage
// failures are returned. The store is ready afterwards in every case.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.ready = true }()

	s.current = Session{}

	token, err := s.storage.Get(ctx, s.tokenKey)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("session: restore token: %w", err)
	}
	raw, err := s.storage.Get(ctx, s.userKey)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("session: restore user: %w", err)
	}

	if token == "" || raw == "" {
		s.emit(EventRestoreEmpty)
		return s.clearLocked(ctx)
	}

	user, err := decodeUser(raw)
	if err != nil {
		s.logger.Warn("session restore discarded corrupt user record", slog.Any("error", err))
		s.emit(EventCorrupt)
		return s.clearLocked(ctx)
	}

	s.current = Session{Authenticated: true, User: &user, Token: token}
	s.logger.Info("session restored", slog.String("user_id", user.ID), slog.String("role", user.Role.String()))
	s.emit(EventRestored)
	return nil
}

// Login persists token and user and replaces any prior session.
func (s *Store) Login(ctx context.Context, token string, user User) error {
	if token == "" {
		return ErrInvalidToken
	}
	payload, err := encodeUser(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(ctx, map[string]string{s.tokenKey: token, s.userKey: payload}); err != nil {
		// Leave storage and memory agreeing on "no session" rather than half of one.
		_ = s.clearLocked(ctx)
		s.current = Session{}
		return fmt.Errorf("session: login: %w", err)
	}

	s.current = Session{Authenticated: true, User: &user, Token: token}
	s.logger.Info("session login", slog.String("user_id", user.ID), slog.String("role", user.Role.String()))
	s.emit(EventLogin)
	return nil
}

// Logout clears the persisted keys and resets the session. It is safe to call
// when already unauthenticated. The in-memory session is reset even when the
// storage removal fails; the error is returned for the caller to log.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutLocked(ctx, EventLogout)
}

// ForceLogout ends the session after the backend rejected token as
// unauthorized. It is a no-op when the current session holds a different
// token, so a stale rejection cannot end a newer login. It reports whether
// the session was cleared.
func (s *Store) ForceLogout(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.Authenticated || s.current.Token != token {
		return false, nil
	}
	s.logger.Warn("session forced logout", slog.String("user_id", s.current.User.ID))
	return true, s.logoutLocked(ctx, EventForcedLogout)
}

// UpdateUser replaces the user record without touching the token. It is a
// silent no-op when no session is active.
func (s *Store) UpdateUser(ctx context.Context, user User) error {
	payload, err := encodeUser(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Authenticated {
		return nil
	}
	return s.updateUserLocked(ctx, user, payload)
}

// UpdateUserFor replaces the user record only while token is still the
// active session token. It reports whether the record was written.
func (s *Store) UpdateUserFor(ctx context.Context, token string, user User) (bool, error) {
	payload, err := encodeUser(user)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Authenticated || s.current.Token != token {
		return false, nil
	}
	if err := s.updateUserLocked(ctx, user, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) updateUserLocked(ctx context.Context, user User, payload string) error {
	if err := s.storage.Set(ctx, s.userKey, payload); err != nil {
		return fmt.Errorf("session: update user: %w", err)
	}
	s.current.User = &user
	s.emit(EventUserUpdated)
	return nil
}

func encodeUser(user User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("session: encode user: %w", err)
	}
	return string(payload), nil
}

// Current returns a snapshot of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// IsAuthenticated reports whether a session is active.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Authenticated
}

// Ready reports whether Restore has completed.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsInRole reports whether the current user holds one of roles.
func (s *Store) IsInRole(roles ...rbac.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.IsInRole(roles...)
}

// CurrentRole implements rbac.RoleSource. A snapshot bound to ctx wins over
// the live store state so one request sees one identity.
func (s *Store) CurrentRole(ctx context.Context) (rbac.Role, bool) {
	if snap, ok := FromContext(ctx); ok {
		return snap.Role()
	}
	return s.Current().Role()
}

func (s *Store) logoutLocked(ctx context.Context, event Event) error {
	var userID string
	if s.current.User != nil {
		userID = s.current.User.ID
	}
	err := s.clearLocked(ctx)
	s.current = Session{}
	if userID != "" {
		s.logger.Info("session logout", slog.String("user_id", userID), slog.String("event", string(event)))
	}
	s.emit(event)
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

func (s *Store) writeLocked(ctx context.Context, values map[string]string) error {
	if b, ok := s.storage.(Batcher); ok {
		return b.SetMany(ctx, values)
	}
	for k, v := range values {
		if err := s.storage.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) clearLocked(ctx context.Context) error {
	if b, ok := s.storage.(Batcher); ok {
		return b.RemoveMany(ctx, s.tokenKey, s.userKey)
	}
	return errors.Join(
		s.storage.Remove(ctx, s.tokenKey),
		s.storage.Remove(ctx, s.userKey),
	)
}

func (s *Store) emit(event Event) {
	if s.observer != nil {
		s.observer.ObserveSession(event)
	}
}

func decodeUser(raw string) (User, error) {
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if err := user.Validate(); err != nil {
		return User{}, err
	}
	return user, nil
}

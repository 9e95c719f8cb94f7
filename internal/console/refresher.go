package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/session"
)

const sharedProfileTimeout = 30 * time.Second

// Refresher reloads the session user from the profile endpoint. Concurrent
// refreshes for the same token share one backend call.
type Refresher struct {
	store   *session.Store
	backend AuthBackend
	logger  *slog.Logger
	group   singleflight.Group
}

// NewRefresher constructs a Refresher.
func NewRefresher(store *session.Store, backend AuthBackend, logger *slog.Logger) *Refresher {
	return &Refresher{store: store, backend: backend, logger: loggerOrDefault(logger)}
}

// Refresh fetches the profile for the current token and replaces the stored
// user. A 401 from the backend forces logout and returns ErrSessionExpired.
func (r *Refresher) Refresh(ctx context.Context) (session.Session, error) {
	snap := r.store.Current()
	if !snap.Authenticated {
		return session.Session{}, ErrNoSession
	}
	token := snap.Token

	// The shared call outlives any single caller; each caller stops waiting
	// when its own ctx is done.
	ch := r.group.DoChan(token, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedProfileTimeout)
		defer cancel()
		return r.backend.Profile(callCtx, token)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return snap, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if errors.Is(res.Err, authclient.ErrUnauthorized) {
			if _, logoutErr := r.store.ForceLogout(ctx, token); logoutErr != nil {
				r.logger.Error("forced logout", slog.Any("error", logoutErr))
			}
			return session.Session{}, ErrSessionExpired
		}
		return snap, fmt.Errorf("console: refresh profile: %w", res.Err)
	}

	// A no-op when a different login replaced the session in the meantime.
	if _, err := r.store.UpdateUserFor(ctx, token, res.Val.(session.User)); err != nil {
		return snap, fmt.Errorf("console: refresh profile: %w", err)
	}
	return r.store.Current(), nil
}

// Run refreshes on every tick of interval until ctx is done. Transient
// failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.store.IsAuthenticated() {
				continue
			}
			if _, err := r.Refresh(ctx); err != nil {
				if errors.Is(err, ErrSessionExpired) {
					r.logger.Warn("periodic refresh ended session")
					continue
				}
				if ctx.Err() == nil {
					r.logger.Warn("periodic refresh failed", slog.Any("error", err))
				}
			}
		}
	}
}

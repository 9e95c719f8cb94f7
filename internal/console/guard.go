package console

import (
	"log/slog"
	"net/http"

	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/session"
)

// Guard gates routes behind an authenticated session. Before the store has
// been restored it answers 503; without a session it answers 401 with a
// login redirect. Otherwise the session snapshot is bound to the request
// context for downstream handlers.
func Guard(store *session.Store, recorder Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	recorder = recorderOrNop(recorder)
	logger = loggerOrDefault(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.Ready() {
				w.Header().Set("Retry-After", "1")
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "session not restored yet")
				return
			}
			snap := store.Current()
			if !snap.Authenticated {
				recorder.ObserveDenied("guard")
				logger.Debug("guard redirect to login", slog.String("path", r.URL.Path))
				httpx.LoginRequired(w, LoginPath, "login required")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.ContextWithSession(r.Context(), snap)))
		})
	}
}

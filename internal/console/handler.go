package console

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

// Handler wires the console auth and session endpoints.
type Handler struct {
	logger    *slog.Logger
	store     *session.Store
	backend   AuthBackend
	refresher *Refresher
	recorder  Recorder
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, store *session.Store, backend AuthBackend, refresher *Refresher, recorder Recorder) *Handler {
	if refresher == nil {
		refresher = NewRefresher(store, backend, logger)
	}
	return &Handler{
		logger:    loggerOrDefault(logger),
		store:     store,
		backend:   backend,
		refresher: refresher,
		recorder:  recorderOrNop(recorder),
		validator: validator.New(),
	}
}

// MountRoutes registers the console routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/verify", h.handleVerify)
		r.Post("/logout", h.handleLogout)
	})
	r.Get("/session", h.showSession)

	r.Group(func(r chi.Router) {
		r.Use(Guard(h.store, h.recorder, h.logger))
		r.Post("/session/refresh", h.handleRefresh)
		r.Get("/navigation", h.showNavigation)
	})
}

type sessionResponse struct {
	Ready bool `json:"ready"`
	session.Session
	Permissions []rbac.Permission `json:"permissions"`
}

func newSessionResponse(ready bool, snap session.Session) sessionResponse {
	resp := sessionResponse{Ready: ready, Session: snap, Permissions: []rbac.Permission{}}
	if role, ok := snap.Role(); ok {
		resp.Permissions = rbac.PermissionsFor(role)
	}
	return resp
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authclient.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	resp, err := h.backend.Login(r.Context(), req)
	if err != nil {
		h.logger.Info("console login rejected", slog.String("email", req.Email), slog.Any("error", err))
		respondBackendError(w, err)
		return
	}
	if err := h.store.Login(r.Context(), resp.Token, resp.User); err != nil {
		h.logger.Error("persist session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "could not persist session")
		return
	}
	httpx.JSON(w, http.StatusOK, newSessionResponse(h.store.Ready(), h.store.Current()))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authclient.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.backend.Register(r.Context(), req)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req authclient.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.backend.Verify(r.Context(), req)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Logout(r.Context()); err != nil {
		h.logger.Warn("logout storage cleanup", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, newSessionResponse(h.store.Ready(), h.store.Current()))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.refresher.Refresh(r.Context())
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, newSessionResponse(true, snap))
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNoSession):
		httpx.LoginRequired(w, LoginPath, "session expired")
	default:
		h.logger.Warn("profile refresh failed", slog.Any("error", err))
		respondBackendError(w, err)
	}
}

func (h *Handler) showNavigation(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.FromContext(r.Context())
	role, _ := snap.Role()
	items := rbac.Navigation(role)
	if items == nil {
		items = []rbac.NavItem{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(fields, ", "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

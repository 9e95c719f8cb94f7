package authserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/supplyline/supplyline/internal/platform/httpx"
	"github.com/supplyline/supplyline/internal/rbac"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	validator      *validator.Validate
	loginPerMinute int
}

// NewHandler constructs a Handler instance. loginPerMinute limits login
// attempts per client IP; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, loginPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		validator:      validator.New(),
		loginPerMinute: loginPerMinute,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/verify", h.handleVerify)
		r.Post("/verify/resend", h.handleResend)
		r.Group(func(r chi.Router) {
			if h.loginPerMinute > 0 {
				r.Use(httprate.LimitByIP(h.loginPerMinute, time.Minute))
			}
			r.Post("/login", h.handleLogin)
		})
	})
	r.Get("/user/profile", h.showProfile)
}

type registerForm struct {
	Email    string    `json:"email" validate:"required,email"`
	Password string    `json:"password" validate:"required,min=8"`
	FullName string    `json:"fullName" validate:"max=120"`
	Role     rbac.Role `json:"role,omitempty" validate:"omitempty,oneof=USER SUPPLIER"`
}

type verifyForm struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type resendForm struct {
	Email string `json:"email" validate:"required,email"`
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form registerForm
	if !h.decode(w, r, &form) {
		return
	}
	acct, err := h.service.Register(r.Context(), RegisterInput{
		Email:    form.Email,
		Password: form.Password,
		FullName: form.FullName,
		Role:     form.Role,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct.Profile())
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var form verifyForm
	if !h.decode(w, r, &form) {
		return
	}
	acct, err := h.service.Verify(r.Context(), form.Email, form.Code)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct.Profile())
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	var form resendForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.ResendCode(r.Context(), form.Email); err != nil && !errors.Is(err, ErrNotFound) {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if !h.decode(w, r, &form) {
		return
	}
	result, err := h.service.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("email", normalizeEmail(form.Email)), slog.String("reason", err.Error()))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.respondError(w, ErrInvalidToken)
		return
	}
	acct, err := h.service.Profile(r.Context(), token)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct.Profile())
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		details := err.Error()
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			details = strings.Join(fields, ", ")
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", details)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
	case errors.Is(err, ErrInvalidToken):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
	case errors.Is(err, ErrNotVerified):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "email not verified")
	case errors.Is(err, ErrEmailTaken):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "email already registered")
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrCodeExpired), errors.Is(err, ErrRoleNotAllowed):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.TrimPrefix(err.Error(), "authserver: "))
	default:
		h.logger.Error("authserver request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

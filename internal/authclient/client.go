package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"

	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

// Config holds client configuration.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultConfig returns sensible defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// Client talks to the REST auth backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	validate   *validator.Validate
}

// New constructs a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		config:     cfg,
		validate:   validator.New(),
	}
}

// LoginRequest is the credential pair sent to POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the token and user returned by a successful login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

// RegisterRequest creates an account via POST /auth/register.
type RegisterRequest struct {
	Email    string    `json:"email" validate:"required,email"`
	Password string    `json:"password" validate:"required,min=8"`
	FullName string    `json:"fullName" validate:"max=120"`
	Role     rbac.Role `json:"role,omitempty" validate:"omitempty,oneof=USER SUPPLIER"`
}

// VerifyRequest confirms an email address via POST /auth/verify.
type VerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// Login exchanges credentials for a token and user.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return LoginResponse{}, err
	}
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", req, &resp, false)
	if err != nil {
		// A 401 on login means bad credentials rather than an expired token.
		if errors.Is(err, ErrUnauthorized) {
			return LoginResponse{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return LoginResponse{}, err
	}
	if resp.Token == "" {
		return LoginResponse{}, fmt.Errorf("%w: token missing", ErrMalformedResponse)
	}
	if err := resp.User.Validate(); err != nil {
		return LoginResponse{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return resp, nil
}

// Register creates an unverified account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (session.User, error) {
	if err := c.validateRequest(req); err != nil {
		return session.User{}, err
	}
	var user session.User
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", req, &user, false); err != nil {
		return session.User{}, err
	}
	return user, nil
}

// Verify confirms the account's email with the delivered code.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (session.User, error) {
	if err := c.validateRequest(req); err != nil {
		return session.User{}, err
	}
	var user session.User
	if err := c.do(ctx, http.MethodPost, "/auth/verify", "", req, &user, false); err != nil {
		return session.User{}, err
	}
	return user, nil
}

// Profile fetches the current user for token. ErrUnauthorized means the
// session must be ended.
func (c *Client) Profile(ctx context.Context, token string) (session.User, error) {
	if token == "" {
		return session.User{}, ErrUnauthorized
	}
	var user session.User
	if err := c.do(ctx, http.MethodGet, "/user/profile", token, nil, &user, true); err != nil {
		return session.User{}, err
	}
	if err := user.Validate(); err != nil {
		return session.User{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return user, nil
}

func (c *Client) validateRequest(req any) error {
	if err := c.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("authclient: encode request: %w", err)
		}
	}

	if !retry || c.config.MaxRetries <= 0 {
		return c.send(ctx, method, path, token, payload, body != nil, out)
	}

	policy := backoff.NewExponentialBackOff()
	if c.config.RetryWaitMin > 0 {
		policy.InitialInterval = c.config.RetryWaitMin
	}
	if c.config.RetryWaitMax > 0 {
		policy.MaxInterval = c.config.RetryWaitMax
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.send(ctx, method, path, token, payload, body != nil, out)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.config.MaxRetries)+1))
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte, hasBody bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("authclient: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return nil
	}

	var p problem
	_ = json.Unmarshal(raw, &p)
	apiErr := &APIError{Status: resp.StatusCode, Title: p.Title, Detail: p.Detail}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.kind = ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		apiErr.kind = ErrForbidden
	case resp.StatusCode == http.StatusConflict:
		apiErr.kind = ErrConflict
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		apiErr.kind = ErrValidation
	case resp.StatusCode >= 500:
		apiErr.kind = ErrUnavailable
	default:
		apiErr.kind = fmt.Errorf("authclient: unexpected status %d", resp.StatusCode)
	}
	return apiErr
}

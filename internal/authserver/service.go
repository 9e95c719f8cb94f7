package authserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/supplyline/supplyline/internal/rbac"
)

// DefaultVerificationTTL is how long an emailed code stays valid.
const DefaultVerificationTTL = 30 * time.Minute

// Mailer delivers verification codes.
type Mailer interface {
	SendVerification(ctx context.Context, email, code string, expiresAt time.Time) error
}

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Role     rbac.Role
}

// ServiceConfig tunes Service behaviour.
type ServiceConfig struct {
	VerificationTTL time.Duration
	BcryptCost      int
	Logger          *slog.Logger
}

// Service wraps authentication business rules.
type Service struct {
	repo            Repository
	tokens          *TokenIssuer
	mailer          Mailer
	logger          *slog.Logger
	verificationTTL time.Duration
	bcryptCost      int
	now             func() time.Time
	newCode         func() (string, error)
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, mailer Mailer, cfg ServiceConfig) *Service {
	ttl := cfg.VerificationTTL
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		tokens:          tokens,
		mailer:          mailer,
		logger:          logger,
		verificationTTL: ttl,
		bcryptCost:      cost,
		now:             time.Now,
		newCode:         verificationCode,
	}
}

// Register creates an unverified account and sends its verification code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	role := in.Role
	if role == "" {
		role = rbac.RoleUser
	}
	if role != rbac.RoleUser && role != rbac.RoleSupplier {
		return nil, ErrRoleNotAllowed
	}
	acct, err := s.newAccount(in.Email, in.Password, in.FullName, role)
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("authserver: generate code: %w", err)
	}
	acct.VerificationCode = code
	acct.VerificationExpiresAt = acct.CreatedAt.Add(s.verificationTTL)

	if err := s.repo.Create(ctx, acct); err != nil {
		return nil, err
	}
	if s.mailer != nil {
		if err := s.mailer.SendVerification(ctx, acct.Email, code, acct.VerificationExpiresAt); err != nil {
			s.logger.Error("enqueue verification mail", slog.String("account_id", acct.ID), slog.Any("error", err))
		}
	}
	s.logger.Info("account registered", slog.String("account_id", acct.ID), slog.String("role", role.String()))
	return acct, nil
}

// Verify confirms the account's email with code. Verifying an already
// verified account succeeds without changes.
func (s *Service) Verify(ctx context.Context, email, code string) (*Account, error) {
	now := s.now()
	acct, err := s.repo.Update(ctx, email, func(acct *Account) error {
		if acct.Verified {
			return nil
		}
		if acct.VerificationCode == "" || subtle.ConstantTimeCompare([]byte(acct.VerificationCode), []byte(strings.TrimSpace(code))) != 1 {
			return ErrInvalidCode
		}
		if now.After(acct.VerificationExpiresAt) {
			return ErrCodeExpired
		}
		acct.Verified = true
		acct.VerificationCode = ""
		acct.UpdatedAt = now
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ResendCode issues a fresh code for an unverified account.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("authserver: generate code: %w", err)
	}
	now := s.now()
	acct, err := s.repo.Update(ctx, email, func(acct *Account) error {
		if acct.Verified {
			return nil
		}
		acct.VerificationCode = code
		acct.VerificationExpiresAt = now.Add(s.verificationTTL)
		acct.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	if acct.Verified || s.mailer == nil {
		return nil
	}
	return s.mailer.SendVerification(ctx, acct.Email, code, acct.VerificationExpiresAt)
}

// Login validates credentials and issues an access token. Unverified
// accounts are refused with ErrNotVerified.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !acct.Verified {
		return LoginResult{}, ErrNotVerified
	}
	token, err := s.tokens.Issue(acct)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: acct.Profile()}, nil
}

// Profile resolves the account behind a bearer token.
func (s *Service) Profile(ctx context.Context, token string) (*Account, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: account gone", ErrInvalidToken)
		}
		return nil, err
	}
	return acct, nil
}

// EnsureAdmin creates a verified ADMIN account when email is not yet taken.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	acct, err := s.newAccount(email, password, "", rbac.RoleAdmin)
	if err != nil {
		return err
	}
	acct.Verified = true
	if err := s.repo.Create(ctx, acct); err != nil && !errors.Is(err, ErrEmailTaken) {
		return err
	}
	s.logger.Info("bootstrap admin ready", slog.String("email", acct.Email))
	return nil
}

func (s *Service) newAccount(email, password, fullName string, role rbac.Role) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("authserver: hash password: %w", err)
	}
	now := s.now().UTC()
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		fullName = displayNameFromEmail(email)
	}
	return &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// displayNameFromEmail turns "jane.doe@x" into "Jane Doe".
func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ", "+", " ").Replace(local)
	return cases.Title(language.English).String(strings.Join(strings.Fields(local), " "))
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

package authserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplyline/supplyline/internal/platform/db"
	"github.com/supplyline/supplyline/internal/rbac"
)

// Repository defines persistence operations for accounts.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// Create stores acct, returning ErrEmailTaken when the email exists.
	Create(ctx context.Context, acct *Account) error
	// Update applies fn to the account stored under email atomically.
	Update(ctx context.Context, email string, fn func(*Account) error) (*Account, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, email, password_hash, full_name, role, verified, verification_code, verification_expires_at, created_at, updated_at`

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	verification_code TEXT NOT NULL DEFAULT '',
	verification_expires_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Migrate creates the accounts table when missing.
func (r *PGRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("authserver: migrate: %w", err)
	}
	return nil
}

// FindByEmail fetches an account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, normalizeEmail(email))
	return scanAccount(row)
}

// FindByID fetches an account by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// Create inserts a new account.
func (r *PGRepository) Create(ctx context.Context, acct *Account) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.FullName, string(acct.Role), acct.Verified,
		acct.VerificationCode, acct.VerificationExpiresAt.UTC(), acct.CreatedAt.UTC(), acct.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("authserver: create account: %w", err)
	}
	return nil
}

// Update locks the account row, applies fn and writes the result back.
func (r *PGRepository) Update(ctx context.Context, email string, fn func(*Account) error) (*Account, error) {
	var updated *Account
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1 FOR UPDATE`, normalizeEmail(email))
		acct, err := scanAccount(row)
		if err != nil {
			return err
		}
		if err := fn(acct); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE accounts SET password_hash = $2, full_name = $3, role = $4, verified = $5,
			verification_code = $6, verification_expires_at = $7, updated_at = $8 WHERE id = $1`,
			acct.ID, acct.PasswordHash, acct.FullName, string(acct.Role), acct.Verified,
			acct.VerificationCode, acct.VerificationExpiresAt.UTC(), acct.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("authserver: update account: %w", err)
		}
		updated = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		acct Account
		role string
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.FullName, &role, &acct.Verified,
		&acct.VerificationCode, &acct.VerificationExpiresAt, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("authserver: scan account: %w", err)
	}
	acct.Role = rbac.Role(role)
	return &acct, nil
}

var _ Repository = (*PGRepository)(nil)

// MemoryRepository keeps accounts in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*Account{}, byEmail: map[string]string{}}
}

// FindByEmail fetches an account by email.
func (m *MemoryRepository) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	acct := *m.byID[id]
	return &acct, nil
}

// FindByID fetches an account by id.
func (m *MemoryRepository) FindByID(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	acct := *stored
	return &acct, nil
}

// Create stores a copy of acct.
func (m *MemoryRepository) Create(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := normalizeEmail(acct.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailTaken
	}
	stored := *acct
	m.byID[acct.ID] = &stored
	m.byEmail[email] = acct.ID
	return nil
}

// Update applies fn to a copy and stores it when fn succeeds.
func (m *MemoryRepository) Update(_ context.Context, email string, fn func(*Account) error) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	acct := *m.byID[id]
	if err := fn(&acct); err != nil {
		return nil, err
	}
	stored := acct
	m.byID[id] = &stored
	return &acct, nil
}

var _ Repository = (*MemoryRepository)(nil)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

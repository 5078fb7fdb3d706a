package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmellak/aistudio/internal/domain"
	"github.com/hmellak/aistudio/internal/repository"
)

// Store implements persistence interfaces on PostgreSQL. Tenant-scoped
// access goes through WithTenant; only user records are reachable outside
// a tenant binding.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ensure Store satisfies interfaces.
var (
	_ repository.UserRepository = (*Store)(nil)
	_ repository.TenantRunner   = (*Store)(nil)
)

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, query, user.ID, user.Email, nilIfEmpty(user.Name), user.PasswordHash).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	return mapPgError(err)
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, COALESCE(name, ''), password_hash, created_at, updated_at
		FROM users WHERE email = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, COALESCE(name, ''), password_hash, created_at, updated_at
		FROM users WHERE id = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, id))
}

// DeleteUser removes a user. Foreign keys cascade the delete through
// projects, their agent runs, and the user's usage logs.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	cmdTag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return mapPgError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

// mapPgError translates driver errors into repository sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505", "23514", "22P02":
			return repository.ErrInvalidArgument
		case "42501":
			// row level security rejected the write; to the caller the
			// target simply does not exist.
			return repository.ErrNotFound
		}
	}
	return err
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// maxPageSize bounds a single list fetch regardless of what the caller asks for.
const maxPageSize = 200

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// cursorArgs expands a cursor into nullable query parameters. A zero
// cursor binds NULLs, which the keyset predicate treats as "no lower bound".
func cursorArgs(cursor domain.Cursor) (any, any) {
	if cursor.Zero() {
		return nil, nil
	}
	return cursor.At, cursor.ID
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dua-ia/dua-credits/internal/userstore"
)

// Ensure Store implements userstore.Store.
var _ userstore.Store = (*Store)(nil)

const userColumns = `id, email, role, display_name, status, created_at, updated_at`

// duplicateColumn is the Postgres error code for ADD COLUMN on an existing column.
const duplicateColumn = "42701"

// Store implements userstore.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed user store using the provided DSN.
func New(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return s.ensureColumn("users", "status", "TEXT NOT NULL DEFAULT 'active'")
}

func (s *Store) ensureColumn(table, column, definition string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := s.db.Exec(query); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == duplicateColumn {
			return nil
		}
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser returns the user with email, creating a plain user if needed.
func (s *Store) EnsureUser(ctx context.Context, email, displayName string) (*userstore.User, error) {
	email = userstore.NormalizeEmail(email)
	if email == "" {
		return nil, userstore.ErrInvalidEmail
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, email, role, display_name, status)
VALUES($1, $2, $3, $4, $5)
ON CONFLICT(email) DO NOTHING`,
		uuid.NewString(), email, userstore.RoleUser, displayName, userstore.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.FindByEmail(ctx, email)
}

// EnsureRole creates or updates the user with email to hold role.
func (s *Store) EnsureRole(ctx context.Context, email string, role userstore.Role) (*userstore.User, error) {
	email = userstore.NormalizeEmail(email)
	if email == "" {
		return nil, userstore.ErrInvalidEmail
	}
	if _, err := userstore.ParseRole(string(role)); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users(id, email, role, status)
VALUES($1, $2, $3, $4)
ON CONFLICT(email) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
RETURNING `+userColumns,
		uuid.NewString(), email, role, userstore.StatusActive)
	return scanUser(row)
}

// EnsureRootAdmin guarantees the user with email exists as root admin.
func (s *Store) EnsureRootAdmin(ctx context.Context, email string) (*userstore.User, error) {
	email = userstore.NormalizeEmail(email)
	if email == "" {
		email = "admin@local"
	}
	return s.EnsureRole(ctx, email, userstore.RoleRootAdmin)
}

// FindByEmail returns the user matching the email, if present.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, userstore.NormalizeEmail(email))
	return lookup(row)
}

// GetUser returns the user with id, if present.
func (s *Store) GetUser(ctx context.Context, id string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return lookup(row)
}

// ListUsers returns all users ordered by e-mail.
func (s *Store) ListUsers(ctx context.Context) ([]userstore.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []userstore.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func lookup(row *sql.Row) (*userstore.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*userstore.User, error) {
	var u userstore.User
	var createdAt, updatedAt time.Time
	if err := scanner.Scan(&u.ID, &u.Email, &u.Role, &u.DisplayName, &u.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = createdAt.UTC()
	u.UpdatedAt = updatedAt.UTC()
	if u.Status == "" {
		u.Status = userstore.StatusActive
	}
	return &u, nil
}

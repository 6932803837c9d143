package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dua-ia/dua-credits/internal/userstore"
)

// Ensure Store implements userstore.Store.
var _ userstore.Store = (*Store)(nil)

const userColumns = `id, email, role, display_name, status, created_at, updated_at`

// Store implements userstore.Store backed by SQLite. Timestamps are stored as
// RFC 3339 text.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite user store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
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
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
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
	now := stamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, email, role, display_name, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING`,
		uuid.NewString(), email, userstore.RoleUser, displayName, userstore.StatusActive, now, now)
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
	now := stamp(time.Now())
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users(id, email, role, display_name, status, created_at, updated_at)
VALUES(?, ?, ?, '', ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at
RETURNING `+userColumns,
		uuid.NewString(), email, role, userstore.StatusActive, now, now)
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
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`, userstore.NormalizeEmail(email))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUser returns the user with id, if present.
func (s *Store) GetUser(ctx context.Context, id string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users ordered by e-mail.
func (s *Store) ListUsers(ctx context.Context) ([]userstore.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []userstore.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*userstore.User, error) {
	var (
		u                    userstore.User
		createdAt, updatedAt string
	)
	if err := scanner.Scan(&u.ID, &u.Email, &u.Role, &u.DisplayName, &u.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseStamp(createdAt)
	u.UpdatedAt = parseStamp(updatedAt)
	return &u, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dua-ia/dua-credits/internal/ledger/sqlstore"
)

// Store implements the ledger stores backed by SQLite.
type Store struct {
	*sqlstore.Store
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	user_id TEXT PRIMARY KEY,
	total_credits INTEGER NOT NULL DEFAULT 0,
	used_credits INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	CHECK (used_credits >= 0 AND used_credits <= total_credits)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('charge','refund','grant','adjust')),
	delta INTEGER NOT NULL,
	balance_after INTEGER NOT NULL,
	refund_of TEXT,
	actor TEXT,
	reason TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created ON credit_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_created ON credit_transactions(created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_refund_of ON credit_transactions(refund_of);

CREATE TABLE IF NOT EXISTS invite_codes (
	code TEXT PRIMARY KEY,
	credits_granted INTEGER NOT NULL CHECK(credits_granted > 0),
	active BOOLEAN NOT NULL DEFAULT 1,
	used_by TEXT,
	used_at TIMESTAMP,
	created_by TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS service_costs (
	service_name TEXT PRIMARY KEY,
	service_label TEXT,
	credits_cost INTEGER NOT NULL CHECK(credits_cost >= 0),
	is_active BOOLEAN NOT NULL DEFAULT 1,
	category TEXT,
	description TEXT,
	updated_by TEXT,
	updated_at TIMESTAMP NOT NULL
);
`

// New opens (or creates) a SQLite store at the given path. Writers are
// serialised through a single connection.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	inner, err := sqlstore.New(db, Dialect(), schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// Dialect returns the SQLite dialect.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		IsUniqueViolation: IsUniqueViolation,
	}
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY conflict.
func IsUniqueViolation(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dua-ia/dua-credits/internal/ledger/sqlstore"
)

// Store implements the ledger stores backed by PostgreSQL.
type Store struct {
	*sqlstore.Store
}

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
	user_id TEXT PRIMARY KEY,
	total_credits BIGINT NOT NULL DEFAULT 0,
	used_credits BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT credit_balances_used_within_total CHECK (used_credits >= 0 AND used_credits <= total_credits)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('charge','refund','grant','adjust')),
	delta BIGINT NOT NULL,
	balance_after BIGINT NOT NULL,
	refund_of TEXT,
	actor TEXT,
	reason TEXT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created ON credit_transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credit_transactions_created ON credit_transactions(created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_refund_of ON credit_transactions(refund_of);

CREATE TABLE IF NOT EXISTS invite_codes (
	code TEXT PRIMARY KEY,
	credits_granted BIGINT NOT NULL CHECK(credits_granted > 0),
	active BOOLEAN NOT NULL DEFAULT TRUE,
	used_by TEXT,
	used_at TIMESTAMPTZ,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS service_costs (
	service_name TEXT PRIMARY KEY,
	service_label TEXT,
	credits_cost BIGINT NOT NULL CHECK(credits_cost >= 0),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	category TEXT,
	description TEXT,
	updated_by TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
	}

	inner, err := sqlstore.New(db, Dialect(), schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// Dialect returns the PostgreSQL dialect.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		Numbered:          true,
		ForUpdate:         " FOR UPDATE",
		IsUniqueViolation: IsUniqueViolation,
	}
}

// IsUniqueViolation reports whether err carries SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

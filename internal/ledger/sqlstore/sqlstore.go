// Package sqlstore implements the ledger stores on database/sql. The SQLite and
// PostgreSQL packages supply the connection, schema and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dua-ia/dua-credits/internal/ledger"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Numbered rewrites "?" placeholders to "$1", "$2", ...
	Numbered bool
	// ForUpdate is appended to row reads inside mutations.
	ForUpdate string
	// IsUniqueViolation recognises duplicate-key errors.
	IsUniqueViolation func(error) bool
}

// Store implements ledger.Store, ledger.InviteStore and ledger.PriceStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies schema and wraps db.
func New(db *sql.DB, dialect Dialect, schema string) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Rebind rewrites "?" placeholders to numbered ones.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) q(query string) string {
	if s.dialect.Numbered {
		return Rebind(query)
	}
	return query
}

func (s *Store) isUnique(err error) bool {
	return err != nil && s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const balanceColumns = `user_id, total_credits, used_credits, created_at, updated_at`

const transactionColumns = `id, user_id, operation, kind, delta, balance_after, refund_of, actor, reason, metadata, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (ledger.Balance, error) {
	var b ledger.Balance
	if err := row.Scan(&b.UserID, &b.TotalCredits, &b.UsedCredits, scanTime(&b.CreatedAt), scanTime(&b.UpdatedAt)); err != nil {
		return ledger.Balance{}, err
	}
	return b, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t        ledger.Transaction
		kind     string
		refundOf sql.NullString
		actor    sql.NullString
		reason   sql.NullString
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Operation, &kind, &t.Delta, &t.BalanceAfter, &refundOf, &actor, &reason, &metadata, scanTime(&t.CreatedAt)); err != nil {
		return ledger.Transaction{}, err
	}
	t.Kind = ledger.Kind(kind)
	t.RefundOf = refundOf.String
	t.Actor = actor.String
	t.Reason = reason.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return ledger.Transaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return t, nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode transaction metadata: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) insertTransaction(ctx context.Context, q queryer, t ledger.Transaction) error {
	md, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, s.q(`
INSERT INTO credit_transactions(`+transactionColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID,
		t.UserID,
		t.Operation,
		string(t.Kind),
		t.Delta,
		t.BalanceAfter,
		nullable(t.RefundOf),
		nullable(t.Actor),
		nullable(t.Reason),
		md,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) available(ctx context.Context, q queryer, userID string) (int64, error) {
	var avail int64
	err := q.QueryRowContext(ctx, s.q(`SELECT total_credits - used_credits FROM credit_balances WHERE user_id = ?`), userID).Scan(&avail)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return avail, err
}

func newTransaction(userID, operation string, kind ledger.Kind, delta int64, after ledger.Balance, now time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Operation:    operation,
		Kind:         kind,
		Delta:        delta,
		BalanceAfter: after.Available(),
		CreatedAt:    now,
	}
}

// Balance returns the balance row for a user.
func (s *Store) Balance(ctx context.Context, userID string) (ledger.Balance, error) {
	if userID == "" {
		return ledger.Balance{}, errors.New("user id required")
	}
	b, err := scanBalance(s.db.QueryRowContext(ctx, s.q(`SELECT `+balanceColumns+` FROM credit_balances WHERE user_id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, ledger.ErrBalanceNotFound
	}
	return b, err
}

// ListBalances returns balances ordered by available credits, highest first.
func (s *Store) ListBalances(ctx context.Context, limit, offset int) ([]ledger.Balance, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT `+balanceColumns+`
FROM credit_balances
ORDER BY total_credits - used_credits DESC, user_id
LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Charge atomically increments used credits when enough are available and
// appends the charge record.
func (s *Store) Charge(ctx context.Context, req ledger.ChargeRequest) (ledger.Receipt, error) {
	if req.UserID == "" {
		return ledger.Receipt{}, errors.New("charge requires user id")
	}
	if req.Operation == "" {
		return ledger.Receipt{}, errors.New("charge requires operation")
	}
	if req.Amount <= 0 {
		return ledger.Receipt{}, ledger.ErrInvalidAmount
	}
	return s.debit(ctx, req.UserID, req.Operation, ledger.KindCharge, req.Amount, req.Actor, "", req.Metadata)
}

// Deduct removes credits on behalf of an administrator.
func (s *Store) Deduct(ctx context.Context, req ledger.AdjustRequest) (ledger.Receipt, error) {
	if req.UserID == "" {
		return ledger.Receipt{}, errors.New("deduct requires user id")
	}
	if req.Amount <= 0 {
		return ledger.Receipt{}, ledger.ErrInvalidAmount
	}
	return s.debit(ctx, req.UserID, "admin_deduct", ledger.KindAdjust, req.Amount, req.Actor, req.Reason, req.Metadata)
}

func (s *Store) debit(ctx context.Context, userID, operation string, kind ledger.Kind, amount int64, actor, reason string, md map[string]any) (ledger.Receipt, error) {
	now := time.Now().UTC()
	var receipt ledger.Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		bal, err := scanBalance(tx.QueryRowContext(ctx, s.q(`
UPDATE credit_balances
SET used_credits = used_credits + ?, updated_at = ?
WHERE user_id = ? AND total_credits - used_credits >= ?
RETURNING `+balanceColumns), amount, now, userID, amount))
		if errors.Is(err, sql.ErrNoRows) {
			avail, aerr := s.available(ctx, tx, userID)
			if aerr != nil {
				return fmt.Errorf("read balance: %w", aerr)
			}
			return fmt.Errorf("%w: available %d, required %d", ledger.ErrInsufficientCredits, avail, amount)
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		txn := newTransaction(userID, operation, kind, -amount, bal, now)
		txn.Actor = actor
		txn.Reason = reason
		txn.Metadata = md
		if err := s.insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		receipt = ledger.Receipt{Transaction: txn, Balance: bal}
		return nil
	})
	return receipt, err
}

// Refund reverses a charge exactly once. Repeated calls return the first
// refund with Duplicate set.
func (s *Store) Refund(ctx context.Context, req ledger.RefundRequest) (ledger.Receipt, error) {
	if req.TransactionID == "" {
		return ledger.Receipt{}, errors.New("refund requires transaction id")
	}
	now := time.Now().UTC()
	var receipt ledger.Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		orig, err := scanTransaction(tx.QueryRowContext(ctx, s.q(`SELECT `+transactionColumns+` FROM credit_transactions WHERE id = ?`+s.dialect.ForUpdate), req.TransactionID))
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if orig.Kind != ledger.KindCharge {
			return fmt.Errorf("%w: %s is a %s", ledger.ErrNotRefundable, orig.ID, orig.Kind)
		}

		existing, err := s.refundOf(ctx, tx, orig.ID)
		if err == nil {
			bal, berr := s.balanceTx(ctx, tx, orig.UserID)
			if berr != nil {
				return berr
			}
			receipt = ledger.Receipt{Transaction: existing, Balance: bal, Duplicate: true}
			return nil
		}
		if !errors.Is(err, ledger.ErrTransactionNotFound) {
			return err
		}

		amount := -orig.Delta
		bal, err := scanBalance(tx.QueryRowContext(ctx, s.q(`
UPDATE credit_balances
SET used_credits = used_credits - ?, updated_at = ?
WHERE user_id = ? AND used_credits >= ?
RETURNING `+balanceColumns), amount, now, orig.UserID, amount))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("refund %s: balance of %s cannot absorb %d credits", orig.ID, orig.UserID, amount)
		}
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		md := map[string]any{"refund": true, "original_operation": orig.Operation}
		for k, v := range req.Metadata {
			md[k] = v
		}
		txn := newTransaction(orig.UserID, orig.Operation, ledger.KindRefund, amount, bal, now)
		txn.RefundOf = orig.ID
		txn.Actor = req.Actor
		txn.Reason = req.Reason
		txn.Metadata = md
		if err := s.insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		receipt = ledger.Receipt{Transaction: txn, Balance: bal}
		return nil
	})
	if s.isUnique(err) {
		// A concurrent refund of the same charge committed first.
		existing, lerr := s.refundOf(ctx, s.db, req.TransactionID)
		if lerr != nil {
			return ledger.Receipt{}, lerr
		}
		bal, berr := s.Balance(ctx, existing.UserID)
		if berr != nil {
			return ledger.Receipt{}, berr
		}
		return ledger.Receipt{Transaction: existing, Balance: bal, Duplicate: true}, nil
	}
	return receipt, err
}

func (s *Store) refundOf(ctx context.Context, q queryer, id string) (ledger.Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx, s.q(`SELECT `+transactionColumns+` FROM credit_transactions WHERE refund_of = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return t, err
}

func (s *Store) balanceTx(ctx context.Context, q queryer, userID string) (ledger.Balance, error) {
	b, err := scanBalance(q.QueryRowContext(ctx, s.q(`SELECT `+balanceColumns+` FROM credit_balances WHERE user_id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{UserID: userID}, nil
	}
	return b, err
}

// Grant adds credits and creates the balance row when missing.
func (s *Store) Grant(ctx context.Context, req ledger.GrantRequest) (ledger.Receipt, error) {
	if req.UserID == "" {
		return ledger.Receipt{}, errors.New("grant requires user id")
	}
	if req.Amount <= 0 {
		return ledger.Receipt{}, ledger.ErrInvalidAmount
	}
	var receipt ledger.Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.grantTx(ctx, tx, req, time.Now().UTC())
		receipt = r
		return err
	})
	return receipt, err
}

func (s *Store) grantTx(ctx context.Context, tx *sql.Tx, req ledger.GrantRequest, now time.Time) (ledger.Receipt, error) {
	bal, err := scanBalance(tx.QueryRowContext(ctx, s.q(`
INSERT INTO credit_balances(user_id, total_credits, used_credits, created_at, updated_at)
VALUES(?, ?, 0, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	total_credits = credit_balances.total_credits + excluded.total_credits,
	updated_at = excluded.updated_at
RETURNING `+balanceColumns), req.UserID, req.Amount, now, now))
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("upsert balance: %w", err)
	}
	operation := req.Operation
	if operation == "" {
		operation = "admin_grant"
	}
	txn := newTransaction(req.UserID, operation, ledger.KindGrant, req.Amount, bal, now)
	txn.Actor = req.Actor
	txn.Reason = req.Reason
	txn.Metadata = req.Metadata
	if err := s.insertTransaction(ctx, tx, txn); err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{Transaction: txn, Balance: bal}, nil
}

// SetAvailable forces the available balance to req.Available, keeping used
// credits so history stays consistent.
func (s *Store) SetAvailable(ctx context.Context, req ledger.SetRequest) (ledger.Receipt, error) {
	if req.UserID == "" {
		return ledger.Receipt{}, errors.New("set requires user id")
	}
	if req.Available < 0 {
		return ledger.Receipt{}, fmt.Errorf("%w: available must not be negative", ledger.ErrInvalidAmount)
	}
	now := time.Now().UTC()
	var receipt ledger.Receipt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO credit_balances(user_id, total_credits, used_credits, created_at, updated_at)
VALUES(?, 0, 0, ?, ?)
ON CONFLICT(user_id) DO NOTHING`), req.UserID, now, now); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
		prev, err := scanBalance(tx.QueryRowContext(ctx, s.q(`SELECT `+balanceColumns+` FROM credit_balances WHERE user_id = ?`+s.dialect.ForUpdate), req.UserID))
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		bal, err := scanBalance(tx.QueryRowContext(ctx, s.q(`
UPDATE credit_balances
SET total_credits = used_credits + ?, updated_at = ?
WHERE user_id = ?
RETURNING `+balanceColumns), req.Available, now, req.UserID))
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		txn := newTransaction(req.UserID, "admin_set", ledger.KindAdjust, bal.Available()-prev.Available(), bal, now)
		txn.Actor = req.Actor
		txn.Reason = req.Reason
		txn.Metadata = map[string]any{"previous_available": prev.Available()}
		if err := s.insertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		receipt = ledger.Receipt{Transaction: txn, Balance: bal}
		return nil
	})
	return receipt, err
}

// Transaction returns one record by id.
func (s *Store) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, s.q(`SELECT `+transactionColumns+` FROM credit_transactions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return t, err
}

// ListTransactions returns the newest records matching filter.
func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Summary aggregates a user's transaction history.
func (s *Store) Summary(ctx context.Context, userID string) (ledger.Summary, error) {
	if userID == "" {
		return ledger.Summary{}, errors.New("user id required")
	}
	var sum ledger.Summary
	err := s.db.QueryRowContext(ctx, s.q(`
SELECT
	COALESCE(SUM(CASE WHEN kind = 'charge' THEN -delta ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind = 'refund' THEN delta ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind = 'grant' THEN delta ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind = 'adjust' THEN delta ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN kind = 'charge' THEN 1 ELSE 0 END), 0)
FROM credit_transactions
WHERE user_id = ?`), userID).Scan(&sum.Spent, &sum.Refunded, &sum.Granted, &sum.Adjusted, &sum.Charges)
	return sum, err
}

// Stats returns global totals plus activity since the given time.
func (s *Store) Stats(ctx context.Context, since time.Time, top int) (ledger.Stats, error) {
	if top <= 0 {
		top = 10
	}
	since = since.UTC()
	st := ledger.Stats{Since: since}
	err := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN total_credits - used_credits > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(total_credits), 0),
	COALESCE(SUM(used_credits), 0)
FROM credit_balances`).Scan(&st.Users, &st.UsersWithCredits, &st.TotalCredits, &st.UsedCredits)
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("balance totals: %w", err)
	}
	st.AvailableCredits = st.TotalCredits - st.UsedCredits

	err = s.db.QueryRowContext(ctx, s.q(`
SELECT
	COALESCE(SUM(CASE WHEN delta < 0 THEN -delta ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN delta > 0 THEN delta ELSE 0 END), 0)
FROM credit_transactions
WHERE created_at >= ?`), since).Scan(&st.PeriodSpent, &st.PeriodAdded)
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("period totals: %w", err)
	}
	st.PeriodNet = st.PeriodAdded - st.PeriodSpent

	rows, err := s.db.QueryContext(ctx, s.q(`
SELECT operation, COUNT(*), COALESCE(SUM(-delta), 0)
FROM credit_transactions
WHERE kind = 'charge' AND created_at >= ?
GROUP BY operation
ORDER BY COALESCE(SUM(-delta), 0) DESC, operation
LIMIT ?`), since, top)
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("top operations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op ledger.OperationStat
		if err := rows.Scan(&op.Operation, &op.Count, &op.Credits); err != nil {
			return ledger.Stats{}, err
		}
		st.TopOperations = append(st.TopOperations, op)
	}
	return st, rows.Err()
}

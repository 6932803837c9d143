package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dua-ia/dua-credits/internal/ledger"
)

const inviteColumns = `code, credits_granted, active, used_by, used_at, created_by, created_at`

func scanInvite(row scanner) (ledger.InviteCode, error) {
	var (
		c         ledger.InviteCode
		usedBy    sql.NullString
		usedAt    time.Time
		createdBy sql.NullString
	)
	used := scanTime(&usedAt)
	if err := row.Scan(&c.Code, &c.CreditsGranted, &c.Active, &usedBy, used, &createdBy, scanTime(&c.CreatedAt)); err != nil {
		return ledger.InviteCode{}, err
	}
	c.UsedBy = usedBy.String
	c.CreatedBy = createdBy.String
	if used.valid {
		c.UsedAt = &usedAt
	}
	return c, nil
}

// CreateInviteCodes inserts codes atomically; one duplicate aborts the batch.
func (s *Store) CreateInviteCodes(ctx context.Context, codes []ledger.InviteCode) error {
	if len(codes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range codes {
			code, err := ledger.NormalizeInviteCode(c.Code)
			if err != nil {
				return err
			}
			if c.CreditsGranted <= 0 {
				return fmt.Errorf("invite %s: %w", code, ledger.ErrInvalidAmount)
			}
			if _, err := tx.ExecContext(ctx, s.q(`
INSERT INTO invite_codes(code, credits_granted, active, created_by, created_at)
VALUES(?, ?, ?, ?, ?)`), code, c.CreditsGranted, true, nullable(c.CreatedBy), now); err != nil {
				if s.isUnique(err) {
					return fmt.Errorf("%w: %s", ledger.ErrInviteExists, code)
				}
				return fmt.Errorf("insert invite code: %w", err)
			}
		}
		return nil
	})
	return err
}

// InviteCode returns one code.
func (s *Store) InviteCode(ctx context.Context, code string) (ledger.InviteCode, error) {
	normalized, err := ledger.NormalizeInviteCode(code)
	if err != nil {
		return ledger.InviteCode{}, err
	}
	c, err := scanInvite(s.db.QueryRowContext(ctx, s.q(`SELECT `+inviteColumns+` FROM invite_codes WHERE code = ?`), normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.InviteCode{}, ledger.ErrInviteInvalid
	}
	return c, err
}

// ListInviteCodes returns the newest codes.
func (s *Store) ListInviteCodes(ctx context.Context, limit int) ([]ledger.InviteCode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+inviteColumns+` FROM invite_codes ORDER BY created_at DESC, code LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.InviteCode
	for rows.Next() {
		c, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RedeemInviteCode consumes a code and grants its credits in one transaction.
func (s *Store) RedeemInviteCode(ctx context.Context, code, userID string) (ledger.InviteCode, ledger.Receipt, error) {
	if userID == "" {
		return ledger.InviteCode{}, ledger.Receipt{}, errors.New("redeem requires user id")
	}
	normalized, err := ledger.NormalizeInviteCode(code)
	if err != nil {
		return ledger.InviteCode{}, ledger.Receipt{}, err
	}
	now := time.Now().UTC()
	var (
		invite  ledger.InviteCode
		receipt ledger.Receipt
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanInvite(tx.QueryRowContext(ctx, s.q(`
UPDATE invite_codes
SET active = ?, used_by = ?, used_at = ?
WHERE code = ? AND active = ? AND used_by IS NULL
RETURNING `+inviteColumns), false, userID, now, normalized, true))
		if errors.Is(err, sql.ErrNoRows) {
			current, lerr := scanInvite(tx.QueryRowContext(ctx, s.q(`SELECT `+inviteColumns+` FROM invite_codes WHERE code = ?`), normalized))
			if errors.Is(lerr, sql.ErrNoRows) {
				return ledger.ErrInviteInvalid
			}
			if lerr != nil {
				return fmt.Errorf("load invite code: %w", lerr)
			}
			if current.UsedBy != "" {
				return ledger.ErrInviteUsed
			}
			return ledger.ErrInviteInvalid
		}
		if err != nil {
			return fmt.Errorf("consume invite code: %w", err)
		}
		r, err := s.grantTx(ctx, tx, ledger.GrantRequest{
			UserID:    userID,
			Amount:    c.CreditsGranted,
			Operation: "invite_code",
			Reason:    "invite code redeemed",
			Actor:     userID,
			Metadata:  map[string]any{"invite_code": c.Code},
		}, now)
		if err != nil {
			return err
		}
		invite = c
		receipt = r
		return nil
	})
	if err != nil {
		return ledger.InviteCode{}, ledger.Receipt{}, err
	}
	return invite, receipt, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dua-ia/dua-credits/internal/ledger"
)

const serviceCostColumns = `service_name, service_label, credits_cost, is_active, category, description, updated_by, updated_at`

func scanServiceCost(row scanner) (ledger.ServiceCost, error) {
	var (
		c           ledger.ServiceCost
		label       sql.NullString
		category    sql.NullString
		description sql.NullString
		updatedBy   sql.NullString
	)
	if err := row.Scan(&c.ServiceName, &label, &c.CreditsCost, &c.Active, &category, &description, &updatedBy, scanTime(&c.UpdatedAt)); err != nil {
		return ledger.ServiceCost{}, err
	}
	c.Label = label.String
	c.Category = category.String
	c.Description = description.String
	c.UpdatedBy = updatedBy.String
	return c, nil
}

// ServiceCosts lists every override row, active or not.
func (s *Store) ServiceCosts(ctx context.Context) ([]ledger.ServiceCost, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceCostColumns+` FROM service_costs ORDER BY category, service_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.ServiceCost
	for rows.Next() {
		c, err := scanServiceCost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertServiceCost creates or replaces an override.
func (s *Store) UpsertServiceCost(ctx context.Context, cost ledger.ServiceCost) (ledger.ServiceCost, error) {
	if cost.ServiceName == "" {
		return ledger.ServiceCost{}, errors.New("service cost requires service name")
	}
	if cost.CreditsCost < 0 {
		return ledger.ServiceCost{}, fmt.Errorf("%w: cost must not be negative", ledger.ErrInvalidAmount)
	}
	now := time.Now().UTC()
	c, err := scanServiceCost(s.db.QueryRowContext(ctx, s.q(`
INSERT INTO service_costs(`+serviceCostColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(service_name) DO UPDATE SET
	service_label = excluded.service_label,
	credits_cost = excluded.credits_cost,
	is_active = excluded.is_active,
	category = excluded.category,
	description = excluded.description,
	updated_by = excluded.updated_by,
	updated_at = excluded.updated_at
RETURNING `+serviceCostColumns),
		cost.ServiceName,
		nullable(cost.Label),
		cost.CreditsCost,
		cost.Active,
		nullable(cost.Category),
		nullable(cost.Description),
		nullable(cost.UpdatedBy),
		now,
	))
	if err != nil {
		return ledger.ServiceCost{}, fmt.Errorf("upsert service cost: %w", err)
	}
	return c, nil
}

// CostOverride returns the active override for an operation, if any.
func (s *Store) CostOverride(ctx context.Context, operation string) (int64, bool, error) {
	var cost int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT credits_cost FROM service_costs WHERE service_name = ? AND is_active = ?`), operation, true).Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cost, true, nil
}

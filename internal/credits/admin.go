package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/hooks"
	"github.com/dua-ia/dua-credits/internal/ledger"
)

var (
	// ErrInvitesUnavailable is returned when no invite store is configured.
	ErrInvitesUnavailable = errors.New("invite codes are not configured")
	// ErrPricingUnavailable is returned when no price store is configured.
	ErrPricingUnavailable = errors.New("service cost overrides are not configured")
)

// Grant adds credits to a user on behalf of actor.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, reason, actor string) (ledger.Receipt, error) {
	if userID == "" {
		return ledger.Receipt{}, ErrUserRequired
	}
	receipt, err := s.store.Grant(ctx, ledger.GrantRequest{
		UserID:    userID,
		Amount:    amount,
		Operation: "admin_grant",
		Reason:    reason,
		Actor:     actor,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	s.metrics.RecordGrant(amount)
	s.emit(ctx, hooks.EventCreditsGranted, userID, actor, map[string]any{
		"credits":        amount,
		"reason":         reason,
		"transaction_id": receipt.Transaction.ID,
	})
	s.log.Info().Str("user_id", userID).Str("actor", actor).Int64("credits", amount).Msg("credits granted")
	return receipt, nil
}

// AdminDeduct removes credits outside of any operation.
func (s *Service) AdminDeduct(ctx context.Context, userID string, amount int64, reason, actor string) (ledger.Receipt, error) {
	if userID == "" {
		return ledger.Receipt{}, ErrUserRequired
	}
	receipt, err := s.store.Deduct(ctx, ledger.AdjustRequest{
		UserID: userID,
		Amount: amount,
		Reason: reason,
		Actor:  actor,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	s.emit(ctx, hooks.EventCreditsAdjusted, userID, actor, map[string]any{
		"credits":        -amount,
		"reason":         reason,
		"transaction_id": receipt.Transaction.ID,
	})
	s.log.Info().Str("user_id", userID).Str("actor", actor).Int64("credits", amount).Msg("credits deducted by admin")
	return receipt, nil
}

// SetAvailable forces a user's available balance.
func (s *Service) SetAvailable(ctx context.Context, userID string, available int64, reason, actor string) (ledger.Receipt, error) {
	if userID == "" {
		return ledger.Receipt{}, ErrUserRequired
	}
	receipt, err := s.store.SetAvailable(ctx, ledger.SetRequest{
		UserID:    userID,
		Available: available,
		Reason:    reason,
		Actor:     actor,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	s.emit(ctx, hooks.EventCreditsAdjusted, userID, actor, map[string]any{
		"credits":        receipt.Transaction.Delta,
		"available":      available,
		"reason":         reason,
		"transaction_id": receipt.Transaction.ID,
	})
	s.log.Info().Str("user_id", userID).Str("actor", actor).Int64("available", available).Msg("balance set by admin")
	return receipt, nil
}

// UserDetail bundles what the admin user view shows.
type UserDetail struct {
	Balance      ledger.Balance       `json:"balance"`
	Available    int64                `json:"available"`
	Summary      ledger.Summary       `json:"summary"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// UserDetail returns balance, summary and recent history for one user.
func (s *Service) UserDetail(ctx context.Context, userID string, limit int) (UserDetail, error) {
	bal, err := s.Balance(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	sum, err := s.store.Summary(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}
	txs, err := s.History(ctx, userID, limit)
	if err != nil {
		return UserDetail{}, err
	}
	return UserDetail{Balance: bal, Available: bal.Available(), Summary: sum, Transactions: txs}, nil
}

// Stats returns global totals plus activity over the given window.
func (s *Service) Stats(ctx context.Context, window time.Duration, top int) (ledger.Stats, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return s.store.Stats(ctx, time.Now().Add(-window), top)
}

// Balances lists balances for administrators.
func (s *Service) Balances(ctx context.Context, limit, offset int) ([]ledger.Balance, error) {
	return s.store.ListBalances(ctx, limit, offset)
}

// RecentActivity lists the newest transactions across all users.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListTransactions(ctx, ledger.TransactionFilter{Limit: limit})
}

// RedeemInvite consumes an invite code for userID.
func (s *Service) RedeemInvite(ctx context.Context, code, userID string) (ledger.InviteCode, ledger.Receipt, error) {
	if s.invites == nil {
		return ledger.InviteCode{}, ledger.Receipt{}, ErrInvitesUnavailable
	}
	if userID == "" {
		return ledger.InviteCode{}, ledger.Receipt{}, ErrUserRequired
	}
	invite, receipt, err := s.invites.RedeemInviteCode(ctx, code, userID)
	if err != nil {
		return ledger.InviteCode{}, ledger.Receipt{}, err
	}
	s.metrics.RecordGrant(invite.CreditsGranted)
	s.emit(ctx, hooks.EventCreditsGranted, userID, userID, map[string]any{
		"credits":        invite.CreditsGranted,
		"invite_code":    invite.Code,
		"transaction_id": receipt.Transaction.ID,
	})
	return invite, receipt, nil
}

// CreateInvites generates count random codes worth credits each.
func (s *Service) CreateInvites(ctx context.Context, count int, credits int64, prefix, actor string) ([]ledger.InviteCode, error) {
	if s.invites == nil {
		return nil, ErrInvitesUnavailable
	}
	if count <= 0 || count > 500 {
		return nil, fmt.Errorf("invite count must be between 1 and 500")
	}
	if credits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	codes := make([]ledger.InviteCode, count)
	for i := range codes {
		codes[i] = ledger.InviteCode{
			Code:           ledger.GenerateInviteCode(prefix),
			CreditsGranted: credits,
			Active:         true,
			CreatedBy:      actor,
		}
	}
	if err := s.invites.CreateInviteCodes(ctx, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Invites lists the newest invite codes.
func (s *Service) Invites(ctx context.Context, limit int) ([]ledger.InviteCode, error) {
	if s.invites == nil {
		return nil, ErrInvitesUnavailable
	}
	return s.invites.ListInviteCodes(ctx, limit)
}

// ServiceCosts lists every override row.
func (s *Service) ServiceCosts(ctx context.Context) ([]ledger.ServiceCost, error) {
	if s.pricing == nil {
		return nil, ErrPricingUnavailable
	}
	return s.pricing.ServiceCosts(ctx)
}

// UpdateServiceCost stores an override for a catalog operation and drops the
// cached price so the next check sees it.
func (s *Service) UpdateServiceCost(ctx context.Context, cost ledger.ServiceCost, actor string) (ledger.ServiceCost, error) {
	if s.pricing == nil {
		return ledger.ServiceCost{}, ErrPricingUnavailable
	}
	op, err := catalog.Lookup(cost.ServiceName)
	if err != nil {
		return ledger.ServiceCost{}, err
	}
	if cost.Label == "" {
		cost.Label = op.DisplayName
	}
	if cost.Category == "" {
		cost.Category = string(op.Category)
	}
	cost.UpdatedBy = actor
	saved, err := s.pricing.UpsertServiceCost(ctx, cost)
	if err != nil {
		return ledger.ServiceCost{}, err
	}
	s.prices.Invalidate(cost.ServiceName)
	s.emit(ctx, hooks.EventPriceUpdated, "", actor, map[string]any{
		"operation": cost.ServiceName,
		"credits":   saved.CreditsCost,
		"active":    saved.Active,
	})
	s.log.Info().Str("operation", cost.ServiceName).Int64("credits", saved.CreditsCost).Bool("active", saved.Active).Str("actor", actor).Msg("service cost updated")
	return saved, nil
}

// Package credits gates paid operations against user balances.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/hooks"
	"github.com/dua-ia/dua-credits/internal/ledger"
	"github.com/dua-ia/dua-credits/internal/metrics"
)

// Mode selects how Run bills an operation.
type Mode string

const (
	// ModeCheckThenDeduct checks the balance, calls the vendor and deducts on success.
	ModeCheckThenDeduct Mode = "check_then_deduct"
	// ModeReserve charges before the vendor call and refunds if the call fails.
	ModeReserve Mode = "reserve"
)

// ParseMode accepts the config spelling of a mode. Empty means check_then_deduct.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCheckThenDeduct:
		return ModeCheckThenDeduct, nil
	case ModeReserve:
		return ModeReserve, nil
	}
	return "", fmt.Errorf("unknown gate mode %q", s)
}

// Options configures a Service.
type Options struct {
	Store   ledger.Store
	Invites ledger.InviteStore
	Pricing ledger.PriceStore
	Prices  *catalog.Resolver
	Hooks   *hooks.Dispatcher
	Metrics *metrics.Collector
	Logger  zerolog.Logger
	Mode    Mode
	// DeductTimeout bounds the deduction after a vendor success. The deduction
	// runs on a context detached from client cancellation.
	DeductTimeout time.Duration
}

// Service is the credit gate.
type Service struct {
	store         ledger.Store
	invites       ledger.InviteStore
	pricing       ledger.PriceStore
	prices        *catalog.Resolver
	hooks         *hooks.Dispatcher
	metrics       *metrics.Collector
	log           zerolog.Logger
	mode          Mode
	deductTimeout time.Duration
}

// New builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("credits: store required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCheckThenDeduct
	}
	if mode != ModeCheckThenDeduct && mode != ModeReserve {
		return nil, fmt.Errorf("credits: unknown mode %q", mode)
	}
	timeout := opts.DeductTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Service{
		store:         opts.Store,
		invites:       opts.Invites,
		pricing:       opts.Pricing,
		prices:        opts.Prices,
		hooks:         opts.Hooks,
		metrics:       m,
		log:           opts.Logger.With().Str("component", "credits").Logger(),
		mode:          mode,
		deductTimeout: timeout,
	}, nil
}

// Mode reports the configured billing mode.
func (s *Service) Mode() Mode {
	return s.mode
}

// CheckResult answers whether a user can afford an operation.
type CheckResult struct {
	Operation  string `json:"operation"`
	HasCredits bool   `json:"hasCredits"`
	Required   int64  `json:"required"`
	Current    int64  `json:"current"`
	Deficit    int64  `json:"deficit,omitempty"`
	IsFree     bool   `json:"isFree"`
}

// Price resolves the effective price of an operation.
func (s *Service) Price(ctx context.Context, operation string) (catalog.Price, error) {
	return s.prices.Resolve(ctx, operation)
}

// Prices resolves the whole catalog.
func (s *Service) Prices(ctx context.Context) ([]catalog.Price, error) {
	if s.prices == nil {
		out := make([]catalog.Price, 0)
		for _, op := range catalog.All() {
			out = append(out, catalog.Price{Operation: op, Source: catalog.SourceStatic})
		}
		return out, nil
	}
	return s.prices.Prices(ctx)
}

// Check reports whether userID can afford operation. It has no side effects:
// free operations never reach the balance store and a missing balance row
// counts as zero credits.
func (s *Service) Check(ctx context.Context, userID, operation string) (CheckResult, error) {
	if userID == "" {
		return CheckResult{}, ErrUserRequired
	}
	price, err := s.Price(ctx, operation)
	if err != nil {
		return CheckResult{}, err
	}
	if price.IsFree() {
		return CheckResult{Operation: operation, HasCredits: true, IsFree: true}, nil
	}

	current, err := s.available(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}
	res := CheckResult{
		Operation:  operation,
		Required:   price.Cost,
		Current:    current,
		HasCredits: current >= price.Cost,
	}
	if !res.HasCredits {
		res.Deficit = price.Cost - current
	}
	return res, nil
}

func (s *Service) available(ctx context.Context, userID string) (int64, error) {
	bal, err := s.store.Balance(ctx, userID)
	if errors.Is(err, ledger.ErrBalanceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal.Available(), nil
}

// Balance returns the user's balance; a missing row is an empty balance.
func (s *Service) Balance(ctx context.Context, userID string) (ledger.Balance, error) {
	if userID == "" {
		return ledger.Balance{}, ErrUserRequired
	}
	bal, err := s.store.Balance(ctx, userID)
	if errors.Is(err, ledger.ErrBalanceNotFound) {
		return ledger.Balance{UserID: userID}, nil
	}
	return bal, err
}

// DeductResult reports the outcome of a deduction. Failures are values, not
// errors, because the caller has already served the user.
type DeductResult struct {
	Success       bool   `json:"success"`
	Operation     string `json:"operation"`
	Charged       int64  `json:"charged"`
	NewBalance    int64  `json:"newBalance"`
	TransactionID string `json:"transactionId,omitempty"`
	Free          bool   `json:"free,omitempty"`
	Err           error  `json:"-"`
}

// Deduct bills one successful operation. Free operations write nothing.
func (s *Service) Deduct(ctx context.Context, userID, operation string, metadata map[string]any) DeductResult {
	res := DeductResult{Operation: operation}
	if userID == "" {
		res.Err = ErrUserRequired
		return res
	}
	price, err := s.Price(ctx, operation)
	if err != nil {
		res.Err = err
		return res
	}
	if price.IsFree() {
		s.metrics.RecordFreeOperation(operation)
		res.Success = true
		res.Free = true
		return res
	}

	md := make(map[string]any, len(metadata)+4)
	for k, v := range metadata {
		md[k] = v
	}
	md["operation"] = operation
	md["cost"] = price.Cost
	md["category"] = string(price.Category)
	md["price_source"] = price.Source

	receipt, err := s.store.Charge(ctx, ledger.ChargeRequest{
		UserID:    userID,
		Operation: operation,
		Amount:    price.Cost,
		Actor:     userID,
		Metadata:  md,
	})
	if err != nil {
		res.Err = fmt.Errorf("deduct %s: %w", operation, err)
		return res
	}

	s.metrics.RecordCharge(operation, price.Cost)
	s.emit(ctx, hooks.EventCreditsCharged, userID, userID, map[string]any{
		"operation":      operation,
		"credits":        price.Cost,
		"transaction_id": receipt.Transaction.ID,
		"balance_after":  receipt.Balance.Available(),
	})
	s.log.Debug().
		Str("user_id", userID).
		Str("operation", operation).
		Int64("credits", price.Cost).
		Int64("balance_after", receipt.Balance.Available()).
		Str("transaction_id", receipt.Transaction.ID).
		Msg("credits deducted")

	res.Success = true
	res.Charged = price.Cost
	res.NewBalance = receipt.Balance.Available()
	res.TransactionID = receipt.Transaction.ID
	return res
}

// Refund reverses a charge. Repeated calls for the same transaction return
// the first refund with Duplicate set and change nothing.
func (s *Service) Refund(ctx context.Context, transactionID, reason, actor string) (ledger.Receipt, error) {
	receipt, err := s.store.Refund(ctx, ledger.RefundRequest{
		TransactionID: transactionID,
		Reason:        reason,
		Actor:         actor,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	if receipt.Duplicate {
		s.log.Info().Str("transaction_id", transactionID).Msg("refund already applied")
		return receipt, nil
	}
	s.metrics.RecordRefund(receipt.Transaction.Operation, receipt.Transaction.Delta)
	s.emit(ctx, hooks.EventCreditsRefunded, receipt.Transaction.UserID, actor, map[string]any{
		"operation":      receipt.Transaction.Operation,
		"credits":        receipt.Transaction.Delta,
		"refund_of":      transactionID,
		"transaction_id": receipt.Transaction.ID,
		"reason":         reason,
	})
	return receipt, nil
}

// History lists a user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	return s.store.ListTransactions(ctx, ledger.TransactionFilter{UserID: userID, Limit: limit})
}

// Summary aggregates a user's history.
func (s *Service) Summary(ctx context.Context, userID string) (ledger.Summary, error) {
	if userID == "" {
		return ledger.Summary{}, ErrUserRequired
	}
	return s.store.Summary(ctx, userID)
}

func (s *Service) emit(ctx context.Context, typ hooks.EventType, userID, actor string, md map[string]any) {
	if s.hooks == nil {
		return
	}
	if err := s.hooks.Publish(context.WithoutCancel(ctx), hooks.NewEvent(typ, userID, actor, md)); err != nil {
		s.log.Warn().Err(err).Str("event", string(typ)).Str("user_id", userID).Msg("hook delivery failed")
	}
}

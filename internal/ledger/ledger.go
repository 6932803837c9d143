package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientCredits means the conditional balance update matched no row.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInviteInvalid       = errors.New("invite code is invalid or inactive")
	ErrInviteUsed          = errors.New("invite code already used")
	ErrInviteExists        = errors.New("invite code already exists")
)

// Kind classifies a transaction record.
type Kind string

const (
	KindCharge Kind = "charge"
	KindRefund Kind = "refund"
	KindGrant  Kind = "grant"
	KindAdjust Kind = "adjust"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCharge, KindRefund, KindGrant, KindAdjust:
		return true
	}
	return false
}

// Balance is a user's credit position. Available is derived, never stored.
type Balance struct {
	UserID       string    `json:"user_id"`
	TotalCredits int64     `json:"total_credits"`
	UsedCredits  int64     `json:"used_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Available returns TotalCredits - UsedCredits.
func (b Balance) Available() int64 {
	return b.TotalCredits - b.UsedCredits
}

// Transaction is one append-only audit record.
type Transaction struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Operation    string         `json:"operation"`
	Kind         Kind           `json:"kind"`
	Delta        int64          `json:"delta"`
	BalanceAfter int64          `json:"balance_after"`
	RefundOf     string         `json:"refund_of,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Receipt is the result of a balance mutation.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
	// Duplicate is set when an idempotent call found an earlier result.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ChargeRequest debits the cost of an operation.
type ChargeRequest struct {
	UserID    string
	Operation string
	Amount    int64
	Actor     string
	Metadata  map[string]any
}

// RefundRequest reverses a charge.
type RefundRequest struct {
	TransactionID string
	Reason        string
	Actor         string
	Metadata      map[string]any
}

// GrantRequest adds credits, creating the balance row when missing.
type GrantRequest struct {
	UserID    string
	Amount    int64
	Operation string
	Reason    string
	Actor     string
	Metadata  map[string]any
}

// AdjustRequest removes credits outside of an operation (admin deduction).
type AdjustRequest struct {
	UserID   string
	Amount   int64
	Reason   string
	Actor    string
	Metadata map[string]any
}

// SetRequest forces the available balance to an exact value.
type SetRequest struct {
	UserID    string
	Available int64
	Reason    string
	Actor     string
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	UserID string
	Kind   Kind
	Since  time.Time
	Limit  int
}

// Summary aggregates one user's history.
type Summary struct {
	Spent    int64 `json:"spent"`
	Refunded int64 `json:"refunded"`
	Granted  int64 `json:"granted"`
	Adjusted int64 `json:"adjusted"`
	Charges  int64 `json:"charges"`
}

// OperationStat is a per-operation aggregate for the admin dashboard.
type OperationStat struct {
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
	Credits   int64  `json:"credits"`
}

// Stats is the global view used by administrators.
type Stats struct {
	Users            int64           `json:"users"`
	UsersWithCredits int64           `json:"users_with_credits"`
	TotalCredits     int64           `json:"total_credits"`
	UsedCredits      int64           `json:"used_credits"`
	AvailableCredits int64           `json:"available_credits"`
	Since            time.Time       `json:"since"`
	PeriodSpent      int64           `json:"period_spent"`
	PeriodAdded      int64           `json:"period_added"`
	PeriodNet        int64           `json:"period_net"`
	TopOperations    []OperationStat `json:"top_operations"`
}

// InviteCode grants credits once.
type InviteCode struct {
	Code           string     `json:"code"`
	CreditsGranted int64      `json:"credits_granted"`
	Active         bool       `json:"active"`
	UsedBy         string     `json:"used_by,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ServiceCost is an admin-edited price override.
type ServiceCost struct {
	ServiceName string    `json:"service_name"`
	Label       string    `json:"service_label"`
	CreditsCost int64     `json:"credits_cost"`
	Active      bool      `json:"is_active"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	UpdatedBy   string    `json:"updated_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists balances and the transaction log. Every mutation is a single
// atomic procedure: the balance update and its transaction record commit together.
type Store interface {
	Balance(ctx context.Context, userID string) (Balance, error)
	ListBalances(ctx context.Context, limit, offset int) ([]Balance, error)
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
	Refund(ctx context.Context, req RefundRequest) (Receipt, error)
	Grant(ctx context.Context, req GrantRequest) (Receipt, error)
	Deduct(ctx context.Context, req AdjustRequest) (Receipt, error)
	SetAvailable(ctx context.Context, req SetRequest) (Receipt, error)
	Transaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	Stats(ctx context.Context, since time.Time, top int) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// InviteStore manages invite codes.
type InviteStore interface {
	CreateInviteCodes(ctx context.Context, codes []InviteCode) error
	InviteCode(ctx context.Context, code string) (InviteCode, error)
	ListInviteCodes(ctx context.Context, limit int) ([]InviteCode, error)
	RedeemInviteCode(ctx context.Context, code, userID string) (InviteCode, Receipt, error)
}

// PriceStore manages service cost overrides.
type PriceStore interface {
	ServiceCosts(ctx context.Context) ([]ServiceCost, error)
	UpsertServiceCost(ctx context.Context, cost ServiceCost) (ServiceCost, error)
	CostOverride(ctx context.Context, operation string) (int64, bool, error)
}

package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dua-ia/dua-credits/internal/hooks"
	"github.com/dua-ia/dua-credits/internal/ledger"
)

// State is a step of the per-request billing flow.
type State string

const (
	StateChecking        State = "checking"
	StateInsufficient    State = "insufficient"
	StateProceeding      State = "proceeding"
	StateVendorCall      State = "vendor_call"
	StateVendorFailed    State = "vendor_failed"
	StateVendorSucceeded State = "vendor_succeeded"
	StateDeducting       State = "deducting"
	StateDeducted        State = "deducted"
	StateDeductionFailed State = "deduction_failed"
)

// Request identifies one gated call.
type Request struct {
	UserID    string
	Operation string
	Metadata  map[string]any
}

// Describer lets a vendor result contribute fields to the charge record.
type Describer interface {
	LedgerMetadata() map[string]any
}

// VendorCall performs the paid work.
type VendorCall[T any] func(ctx context.Context) (T, error)

// Outcome is the terminal state of Run. Result is set whenever the vendor
// call succeeded, including StateDeductionFailed.
type Outcome[T any] struct {
	State  State
	Path   []State
	Check  CheckResult
	Deduct DeductResult
	Result T
}

func (o *Outcome[T]) advance(s State) {
	o.State = s
	o.Path = append(o.Path, s)
}

// Run drives one request through the billing state machine using the
// service's mode. It returns an *InsufficientCreditsError for 402s and an
// error wrapping ErrVendorFailed when the vendor call fails. A deduction
// failure after a vendor success is not an error: the outcome carries the
// result and operators are alerted.
func Run[T any](ctx context.Context, s *Service, req Request, call VendorCall[T]) (Outcome[T], error) {
	if s.mode == ModeReserve {
		return runReserve(ctx, s, req, call)
	}
	return runCheckThenDeduct(ctx, s, req, call)
}

func runCheckThenDeduct[T any](ctx context.Context, s *Service, req Request, call VendorCall[T]) (Outcome[T], error) {
	out := Outcome[T]{}
	out.advance(StateChecking)
	check, err := s.Check(ctx, req.UserID, req.Operation)
	if err != nil {
		return out, err
	}
	out.Check = check
	if !check.HasCredits {
		out.advance(StateInsufficient)
		s.metrics.RecordInsufficient(req.Operation)
		return out, &InsufficientCreditsError{Operation: req.Operation, Required: check.Required, Current: check.Current}
	}
	out.advance(StateProceeding)
	out.advance(StateVendorCall)
	result, err := call(ctx)
	if err != nil {
		out.advance(StateVendorFailed)
		return out, fmt.Errorf("%w: %w", ErrVendorFailed, err)
	}
	out.Result = result
	out.advance(StateVendorSucceeded)

	md := mergeMetadata(req.Metadata, result)
	out.advance(StateDeducting)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deductTimeout)
	defer cancel()
	out.Deduct = s.Deduct(dctx, req.UserID, req.Operation, md)
	if !out.Deduct.Success {
		out.advance(StateDeductionFailed)
		s.deductionFailed(ctx, req, out.Deduct.Err)
		return out, nil
	}
	out.advance(StateDeducted)
	return out, nil
}

func runReserve[T any](ctx context.Context, s *Service, req Request, call VendorCall[T]) (Outcome[T], error) {
	out := Outcome[T]{}
	out.advance(StateChecking)
	resv, err := s.Reserve(ctx, req.UserID, req.Operation, req.Metadata)
	if err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			out.advance(StateInsufficient)
			out.Check = CheckResult{
				Operation: req.Operation,
				Required:  insufficient.Required,
				Current:   insufficient.Current,
				Deficit:   insufficient.Deficit(),
			}
			s.metrics.RecordInsufficient(req.Operation)
		}
		return out, err
	}
	out.Check = CheckResult{
		Operation:  req.Operation,
		HasCredits: true,
		Required:   resv.Charged,
		Current:    resv.BalanceAfter + resv.Charged,
		IsFree:     resv.Free,
	}
	out.advance(StateProceeding)
	out.advance(StateVendorCall)
	result, err := call(ctx)
	if err != nil {
		out.advance(StateVendorFailed)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deductTimeout)
		defer cancel()
		if _, rerr := resv.Release(rctx, "vendor call failed"); rerr != nil {
			s.log.Error().Err(rerr).
				Str("user_id", req.UserID).
				Str("operation", req.Operation).
				Str("transaction_id", resv.TransactionID).
				Msg("reservation release failed")
			s.emit(ctx, hooks.EventDeductionFailed, req.UserID, "", map[string]any{
				"operation":      req.Operation,
				"transaction_id": resv.TransactionID,
				"stage":          "release",
				"error":          rerr.Error(),
			})
		}
		return out, fmt.Errorf("%w: %w", ErrVendorFailed, err)
	}
	out.Result = result
	out.advance(StateDeducted)
	out.Deduct = DeductResult{
		Success:       true,
		Operation:     req.Operation,
		Charged:       resv.Charged,
		NewBalance:    resv.BalanceAfter,
		TransactionID: resv.TransactionID,
		Free:          resv.Free,
	}
	return out, nil
}

func mergeMetadata(base map[string]any, result any) map[string]any {
	d, ok := result.(Describer)
	if !ok {
		return base
	}
	extra := d.LedgerMetadata()
	if len(extra) == 0 {
		return base
	}
	md := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		md[k] = v
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func (s *Service) deductionFailed(ctx context.Context, req Request, err error) {
	s.metrics.RecordDeductionFailure(req.Operation)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.log.Warn().Err(err).
		Str("user_id", req.UserID).
		Str("operation", req.Operation).
		Msg("vendor call succeeded but credit deduction failed")
	s.emit(ctx, hooks.EventDeductionFailed, req.UserID, "", map[string]any{
		"operation": req.Operation,
		"stage":     "deduct",
		"error":     msg,
	})
}

// Reservation is a charge taken before the vendor call.
type Reservation struct {
	svc           *Service
	UserID        string
	Operation     string
	TransactionID string
	Charged       int64
	BalanceAfter  int64
	Free          bool

	mu sync.Mutex
}

// Reserve atomically checks and charges in one store call. Insufficient funds
// come back as an *InsufficientCreditsError.
func (s *Service) Reserve(ctx context.Context, userID, operation string, metadata map[string]any) (*Reservation, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	price, err := s.Price(ctx, operation)
	if err != nil {
		return nil, err
	}
	resv := &Reservation{svc: s, UserID: userID, Operation: operation}
	if price.IsFree() {
		s.metrics.RecordFreeOperation(operation)
		resv.Free = true
		return resv, nil
	}
	res := s.Deduct(ctx, userID, operation, withReserved(metadata))
	if !res.Success {
		if errors.Is(res.Err, ledger.ErrInsufficientCredits) {
			current, berr := s.available(ctx, userID)
			if berr != nil {
				return nil, berr
			}
			return nil, &InsufficientCreditsError{Operation: operation, Required: price.Cost, Current: current}
		}
		return nil, res.Err
	}
	resv.TransactionID = res.TransactionID
	resv.Charged = res.Charged
	resv.BalanceAfter = res.NewBalance
	return resv, nil
}

func withReserved(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out["reserved"] = true
	return out
}

// Release refunds the reservation. It is safe to call more than once.
func (r *Reservation) Release(ctx context.Context, reason string) (ledger.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Free || r.TransactionID == "" {
		return ledger.Receipt{}, nil
	}
	return r.svc.Refund(ctx, r.TransactionID, reason, "system")
}

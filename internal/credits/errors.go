package credits

import (
	"errors"
	"fmt"

	"github.com/dua-ia/dua-credits/internal/ledger"
)

var (
	// ErrUserRequired is returned when a call carries no user id.
	ErrUserRequired = errors.New("user id required")
	// ErrVendorFailed wraps the error of a failed vendor call.
	ErrVendorFailed = errors.New("vendor call failed")
)

// InsufficientCreditsError carries the numbers the 402 response needs.
type InsufficientCreditsError struct {
	Operation string
	Required  int64
	Current   int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: required %d, available %d", e.Operation, e.Required, e.Current)
}

// Deficit is how many credits are missing.
func (e *InsufficientCreditsError) Deficit() int64 {
	if d := e.Required - e.Current; d > 0 {
		return d
	}
	return 0
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ledger.ErrInsufficientCredits
}

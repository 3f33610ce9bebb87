// Package privacy implements the differential-privacy noise engine: a
// budget ledger tracking cumulative epsilon spend, calibrated Gaussian and
// Laplacian perturbation, and exponential-mechanism candidate selection.
package privacy

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when a noise call requests more epsilon than
// remains in the ledger. The call has no effect: the ledger is unchanged and
// the caller may retry at a coarser privacy level.
var ErrBudgetExceeded = errors.New("privacy budget exceeded")

// ErrInvalidEpsilon is returned for non-positive epsilon. This is a
// programmer error and should fail fast.
var ErrInvalidEpsilon = errors.New("epsilon must be positive")

// ErrInvalidSensitivity is returned for non-positive sensitivity.
var ErrInvalidSensitivity = errors.New("sensitivity must be positive")

// BudgetLedger tracks cumulative epsilon spend against a fixed total budget.
// One ledger exists per analytics session; it is the single shared mutable
// resource of the noise engine and all spends go through Spend's atomic
// check-then-act under the mutex.
type BudgetLedger struct {
	mu    sync.Mutex
	total float64
	used  float64
}

// NewBudgetLedger creates a ledger with the given total epsilon budget.
func NewBudgetLedger(totalEpsilon float64) (*BudgetLedger, error) {
	if totalEpsilon <= 0 {
		return nil, fmt.Errorf("total budget must be positive, got %v: %w", totalEpsilon, ErrInvalidEpsilon)
	}
	return &BudgetLedger{total: totalEpsilon}, nil
}

// Spend atomically consumes epsilon from the budget.
// If the spend would exceed the total budget the ledger is left unchanged
// and ErrBudgetExceeded is returned.
func (l *BudgetLedger) Spend(epsilon float64) error {
	if epsilon <= 0 {
		return ErrInvalidEpsilon
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.used+epsilon > l.total {
		return fmt.Errorf("requested %.4f with %.4f of %.4f remaining: %w",
			epsilon, l.total-l.used, l.total, ErrBudgetExceeded)
	}

	l.used += epsilon
	return nil
}

// Used returns the epsilon consumed so far.
func (l *BudgetLedger) Used() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Total returns the total epsilon budget.
func (l *BudgetLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Remaining returns the epsilon still available.
func (l *BudgetLedger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total - l.used
}

// Reset zeroes the consumed budget. This is an administrative action; the
// caller is responsible for logging it.
func (l *BudgetLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used = 0
}

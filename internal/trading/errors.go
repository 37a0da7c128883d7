// internal/trading/errors.go
package trading

import (
	"context"
	"errors"
	"fmt"
)

// Provider error taxonomy. Transient errors are retried by the rate-limited
// caller; the rest surface immediately.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrSwapRejected      = errors.New("swap rejected")
	ErrTimeout           = errors.New("operation timed out")
	ErrRateLimited       = errors.New("rate limited")
)

// ExecError reports a failed Buy or Sell. Submitted distinguishes a failure
// before submission (safe to retry) from one after the provider confirmed
// submission, where a retry could double-execute.
type ExecError struct {
	Op           string
	TokenAddress string
	Submitted    bool
	Err          error
}

func (e *ExecError) Error() string {
	if e.Submitted {
		return fmt.Sprintf("%s %s: outcome unknown after submission: %v", e.Op, e.TokenAddress, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TokenAddress, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsAmbiguous reports whether err represents an execution whose outcome is
// unconfirmed. Ambiguous executions must never be retried automatically.
func IsAmbiguous(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Submitted
}

// IsRetryable classifies an error for the retry policy. Insufficient funds,
// rejected swaps and ambiguous executions are final; timeouts, missing
// quotes and context deadlines are worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAmbiguous(err) {
		return false
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrSwapRejected),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrQuoteUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	// Unknown errors are treated as transient network-class failures.
	return true
}

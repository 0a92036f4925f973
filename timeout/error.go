package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *Error via errors.Is.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled additionally matches attempts ended by Cancel or CancelAll.
	ErrCancelled = errors.New("operation cancelled")

	// ErrAborted is what an operation without a context-aware client can
	// return to report that it honoured the cancellation signal.
	ErrAborted = errors.New("operation aborted")

	// ErrOperationPanicked wraps a panic recovered from an operation.
	ErrOperationPanicked = errors.New("operation panicked")
)

// Error reports that an operation ran out of time budget.
//
// For a single attempt Budget is the budget that expired. For an
// exhausted Progressive ladder it is the largest configured duration,
// which is the figure callers configured and expect to see.
type Error struct {
	Label     string
	Budget    time.Duration
	Elapsed   time.Duration
	Attempts  int
	Cancelled bool
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("%s cancelled after %s (budget %dms)",
			e.Label, e.Elapsed.Round(time.Millisecond), e.Budget.Milliseconds())
	}

	return fmt.Sprintf("%s timed out after %dms", e.Label, e.Budget.Milliseconds())
}

func (e *Error) Is(target error) bool {
	return target == ErrTimeout || (e.Cancelled && target == ErrCancelled)
}

// Timeout satisfies the net.Error style check.
func (e *Error) Timeout() bool { return true }

// IsTimeout reports whether err is, or wraps, an *Error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// isAbort reports whether err is the designated aborted condition.
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrAborted)
}

package timeout

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	defaultCeiling = 30 * time.Second
)

var (
	ErrEmptyPolicy      = errors.New("timeout policy has no retry durations")
	ErrNonPositiveValue = errors.New("timeout policy durations must be positive")
)

// Policy is the time budget configuration for an executor.
//
// RetryDurations is the ladder walked by Progressive, in order. Ceiling
// caps any single attempt no matter what budget was asked for. When
// CancelOnTimeout is false the operation is never signalled: it receives
// the caller's context and keeps running after its attempt has failed,
// which is what you want for calls that cannot be interrupted anyway.
type Policy struct {
	RetryDurations  []time.Duration
	Ceiling         time.Duration
	CancelOnTimeout bool
}

// DefaultPolicy returns 5s, 10s, 20s under a 30s ceiling, with cancellation.
func DefaultPolicy() Policy {
	return Policy{
		RetryDurations:  []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
		Ceiling:         defaultCeiling,
		CancelOnTimeout: true,
	}
}

// Validate checks that the ladder is non-empty and every value positive.
// The ladder does not have to be increasing.
func (p Policy) Validate() error {
	if len(p.RetryDurations) == 0 {
		return ErrEmptyPolicy
	}

	for i, d := range p.RetryDurations {
		if d <= 0 {
			return fmt.Errorf("%w: retry duration %d is %s", ErrNonPositiveValue, i, d)
		}
	}

	return p.validateCeiling()
}

func (p Policy) validateCeiling() error {
	if p.Ceiling <= 0 {
		return fmt.Errorf("%w: ceiling is %s", ErrNonPositiveValue, p.Ceiling)
	}

	return nil
}

// Max returns the largest retry duration, or zero for an empty ladder.
func (p Policy) Max() time.Duration {
	if len(p.RetryDurations) == 0 {
		return 0
	}

	return slices.Max(p.RetryDurations)
}

// Budget returns the time actually allotted to an attempt asked to run for d.
func (p Policy) Budget(d time.Duration) time.Duration {
	return min(d, p.Ceiling)
}

func (p Policy) clone() Policy {
	p.RetryDurations = slices.Clone(p.RetryDurations)

	return p
}

package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/vitalscan/scan-common/logger"
	"go.uber.org/atomic"
)

func testContext(t *testing.T) context.Context {
	t.Helper()

	return logger.WithLogger(t.Context(), slogt.New(t))
}

// stub is a controllable operation. Each call records the budget it was
// given; behave decides what that call does.
type stub[T any] struct {
	calls   atomic.Int32
	budgets chan time.Duration
	behave  func(ctx context.Context, call int32, budget time.Duration) (T, error)
}

func newStub[T any](behave func(ctx context.Context, call int32, budget time.Duration) (T, error)) *stub[T] {
	return &stub[T]{
		budgets: make(chan time.Duration, 64),
		behave:  behave,
	}
}

func (s *stub[T]) op(ctx context.Context, budget time.Duration) (T, error) {
	call := s.calls.Inc()
	s.budgets <- budget

	return s.behave(ctx, call, budget)
}

func (s *stub[T]) seen() []time.Duration {
	var out []time.Duration

	for {
		select {
		case d := <-s.budgets:
			out = append(out, d)
		default:
			return out
		}
	}
}

// untilAborted blocks until ctx is cancelled and reports the abort.
func untilAborted[T any](ctx context.Context, _ int32, _ time.Duration) (T, error) {
	var zero T

	<-ctx.Done()

	return zero, ctx.Err()
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

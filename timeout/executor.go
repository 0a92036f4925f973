// Package timeout runs operations under escalating time budgets.
//
// An Executor gives each attempt of an operation a budget (capped by the
// policy ceiling) and a cancellation signal in the form of a context.
// Attempt runs one bounded attempt. Progressive walks the policy's ladder
// of budgets, retrying only when an attempt ran out of time; any other
// failure is returned as is on the first occurrence.
//
//	exec := timeout.New(timeout.WithPolicy(timeout.Policy{
//	    RetryDurations:  []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
//	    Ceiling:         500 * time.Millisecond,
//	    CancelOnTimeout: true,
//	}))
//
//	rows, err := timeout.Progressive(ctx, exec,
//	    func(ctx context.Context, budget time.Duration) ([]Row, error) {
//	        return store.Query(ctx, "waitlist")
//	    }, timeout.WithLabel("waitlist-query"))
//
// Cancellation is cooperative. With CancelOnTimeout set, an expired
// attempt has its context cancelled and the executor waits for the
// operation to return before reporting the timeout, so attempts never
// overlap; an operation that ignores its context holds the call until it
// returns on its own. Without CancelOnTimeout the timeout is reported
// straight away and the operation keeps running in the background. The
// executor cannot reclaim anything such an operation holds.
//
// Create one Executor in the composing application and hand it to the
// components that need it; there is no package-level instance.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalscan/scan-common/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vitalscan/scan-common/timeout"

// Operation is the unit of work an Executor bounds. ctx is the attempt's
// cancellation signal and budget the time it has been given. When ctx is
// cancelled a well-behaved operation returns promptly with an error
// matching context.Canceled, context.DeadlineExceeded or ErrAborted.
type Operation[T any] func(ctx context.Context, budget time.Duration) (T, error)

// Executor runs operations under a Policy and tracks in-flight attempts
// so they can be cancelled by handle or all at once. It is safe for
// concurrent use.
type Executor struct {
	opts     options
	registry *registry
}

// New returns an Executor using DefaultPolicy unless overridden by opts.
func New(opts ...Option) *Executor {
	o := options{
		policy: DefaultPolicy(),
		label:  defaultLabel,
	}

	for _, opt := range opts {
		opt(&o)
	}

	// Handles only make sense per call.
	o.operationID = ""

	return &Executor{
		opts:     o,
		registry: newRegistry(),
	}
}

// Policy returns a copy of the executor's policy.
func (e *Executor) Policy() Policy {
	return e.opts.policy.clone()
}

func (e *Executor) resolve(opts []Option) options {
	o := e.opts
	o.policy = o.policy.clone()

	for _, opt := range opts {
		opt(&o)
	}

	if o.label == "" {
		o.label = defaultLabel
	}

	return o
}

// Do runs fn as a single attempt with budget d. See Attempt.
func (e *Executor) Do(
	ctx context.Context,
	d time.Duration,
	fn func(ctx context.Context, budget time.Duration) error,
	opts ...Option,
) error {
	_, err := Attempt(ctx, e, d, errorOnly(fn), opts...)

	return err
}

// DoProgressive runs fn through the budget ladder. See Progressive.
func (e *Executor) DoProgressive(
	ctx context.Context,
	fn func(ctx context.Context, budget time.Duration) error,
	opts ...Option,
) error {
	_, err := Progressive(ctx, e, errorOnly(fn), opts...)

	return err
}

func errorOnly(fn func(ctx context.Context, budget time.Duration) error) Operation[struct{}] {
	return func(ctx context.Context, budget time.Duration) (struct{}, error) {
		return struct{}{}, fn(ctx, budget)
	}
}

// Cancel signals the live attempt registered under id and forgets it.
// It reports whether such an attempt existed; calling it again for the
// same id returns false until a new attempt registers under it.
func (e *Executor) Cancel(id string) bool {
	if !e.registry.cancel(id) {
		return false
	}

	cancellationsTotal.WithLabelValues("handle").Inc()
	logger.Get().Info("cancelled operation", "operation-id", id)

	return true
}

// CancelAll signals and forgets every live attempt, stopping their
// timers. The executor stays usable. It returns how many attempts were
// cancelled.
func (e *Executor) CancelAll() int {
	n := e.registry.cancelAll()
	if n > 0 {
		cancellationsTotal.WithLabelValues("all").Add(float64(n))
	}

	logger.Get().Info("cancelled all operations", "count", n)

	return n
}

// Pending returns the number of attempts whose timers are still live.
func (e *Executor) Pending() int {
	return e.registry.pending()
}

// Handles returns the ids of live registered attempts in natural order.
func (e *Executor) Handles() []string {
	return e.registry.handles()
}

// NewHandle returns a fresh, unique operation id.
func NewHandle() string {
	return "op-" + uuid.Must(uuid.NewV7()).String()
}

// Attempt runs op once with a budget of min(d, ceiling).
//
// A result that arrives in time is returned unmodified, and so is any
// error other than the aborted condition. When the budget expires (or the
// attempt is cancelled through its handle) the result is an *Error. If
// ctx itself ends first, ctx.Err() is returned; that is not a timeout.
func Attempt[T any](ctx context.Context, e *Executor, d time.Duration, op Operation[T], opts ...Option) (T, error) {
	var zero T

	o := e.resolve(opts)

	if d <= 0 {
		return zero, fmt.Errorf("%w: budget is %s", ErrNonPositiveValue, d)
	}

	if err := o.policy.validateCeiling(); err != nil {
		return zero, err
	}

	value, _, err := runAttempt(ctx, e, &o, d, op, 1)

	return value, err
}

// Progressive walks the policy's ladder, running one attempt per budget,
// strictly one after another.
//
// It returns the first successful result. Only an attempt whose own
// budget expired moves on to the next budget, which starts from a full
// allotment. Any other error ends the call immediately and is returned
// unchanged, even an *Error produced by a nested executor call. Cancel or
// CancelAll on the running attempt also ends the call: the result is an
// *Error with Cancelled set and the remaining budgets are not tried. When
// the last budget also times out, the *Error reports the largest
// configured budget.
func Progressive[T any](ctx context.Context, e *Executor, op Operation[T], opts ...Option) (T, error) {
	var zero T

	o := e.resolve(opts)

	if err := o.policy.Validate(); err != nil {
		return zero, err
	}

	ladder := o.policy.RetryDurations

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "timeout.progressive",
		trace.WithAttributes(
			attribute.String("label", o.label),
			attribute.Int("ladder_len", len(ladder)),
		))
	defer span.End()

	start := time.Now()

	for i, d := range ladder {
		value, expired, err := runAttempt(ctx, e, &o, d, op, i+1)
		if err == nil {
			return value, nil
		}

		if !expired {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			return zero, err
		}

		if i < len(ladder)-1 {
			logger.Get(ctx).Debug("attempt timed out, escalating budget",
				"label", o.label,
				"attempt", i+1,
				"budget", o.policy.Budget(d),
				"next", o.policy.Budget(ladder[i+1]))
		}
	}

	tErr := &Error{
		Label:    o.label,
		Budget:   o.policy.Max(),
		Elapsed:  time.Since(start),
		Attempts: len(ladder),
	}

	exhaustedTotal.WithLabelValues(o.label).Inc()
	span.RecordError(tErr)
	span.SetStatus(codes.Error, tErr.Error())

	logger.Get(ctx).Warn("operation exhausted every time budget",
		"label", o.label,
		"attempts", tErr.Attempts,
		"elapsed", tErr.Elapsed,
		"error", logger.AnnotateError(tErr, "ladder", ladder, "ceiling", o.policy.Ceiling))

	return zero, tErr
}

type result[T any] struct {
	value T
	err   error
}

// runAttempt runs a single bounded attempt. expired is true only when the
// attempt's own budget ran out; a Cancel, a caller abort or an error the
// operation returned leaves it false.
func runAttempt[T any](
	ctx context.Context,
	e *Executor,
	o *options,
	d time.Duration,
	op Operation[T],
	attempt int,
) (value T, expired bool, err error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	budget := o.policy.Budget(d)

	if o.operationID != "" {
		ctx = logger.WithOperationId(ctx, o.operationID)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "timeout.attempt",
		trace.WithAttributes(
			attribute.String("label", o.label),
			attribute.Int("attempt", attempt),
			attribute.Int64("budget_ms", budget.Milliseconds()),
		))
	defer span.End()

	signal, cancel := context.WithCancelCause(ctx)

	ctrl := &controller{id: o.operationID, cancel: cancel}
	ctrl.timer = time.AfterFunc(budget, func() { cancel(errBudgetExpired) })

	e.registry.add(ctrl)
	inflight.Inc()

	defer func() {
		ctrl.timer.Stop()
		e.registry.remove(ctrl)
		cancel(nil)
		inflight.Dec()
	}()

	opCtx := ctx
	if o.policy.CancelOnTimeout {
		opCtx = signal
	}

	log := logger.Get(ctx)
	log.Debug("starting attempt", "label", o.label, "attempt", attempt, "budget", budget)

	start := time.Now()
	results := make(chan result[T], 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- result[T]{err: fmt.Errorf("%w: %v", ErrOperationPanicked, r)}
			}
		}()

		value, err := op(opCtx, budget)
		results <- result[T]{value: value, err: err}
	}()

	var (
		res   result[T]
		fired bool
	)

	select {
	case res = <-results:
	case <-signal.Done():
		// The operation may have finished at the same instant.
		select {
		case res = <-results:
		default:
			fired = true
		}
	}

	// Read before waiting below, so a caller abort during the wait does not
	// hide an expiry that already happened.
	signalled := signal.Err() != nil && ctx.Err() == nil

	settled := !fired
	if fired && o.policy.CancelOnTimeout {
		// The operation was told to stop; let it unwind before the next
		// attempt can start.
		res = <-results
		settled = true
	}

	elapsed := time.Since(start)
	attemptDuration.WithLabelValues(o.label).Observe(elapsed.Seconds())

	// A value delivered after the signal lost the race.
	late := fired && res.err == nil

	switch {
	case signalled && (!settled || late || isAbort(res.err)):
		// Reported as a timeout below.
	case !settled || late:
		// The caller's context ended before the operation did.
		attemptsTotal.WithLabelValues(o.label, outcomeAborted).Inc()
		span.SetStatus(codes.Error, "caller context done")

		return zero, false, ctx.Err()
	case res.err == nil:
		attemptsTotal.WithLabelValues(o.label, outcomeSuccess).Inc()

		return res.value, false, nil
	default:
		outcome := outcomeFailure
		if ctx.Err() != nil {
			outcome = outcomeAborted
		}

		attemptsTotal.WithLabelValues(o.label, outcome).Inc()
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())

		return zero, false, res.err
	}

	cause := context.Cause(signal)

	tErr := &Error{
		Label:     o.label,
		Budget:    budget,
		Elapsed:   elapsed,
		Attempts:  attempt,
		Cancelled: errors.Is(cause, errCancelledOne) || errors.Is(cause, errCancelledAll),
	}

	if tErr.Cancelled {
		attemptsTotal.WithLabelValues(o.label, outcomeCanceled).Inc()
	} else {
		attemptsTotal.WithLabelValues(o.label, outcomeTimeout).Inc()
	}

	span.RecordError(tErr)
	span.SetStatus(codes.Error, tErr.Error())
	log.Debug("attempt ended without a result", "label", o.label, "attempt", attempt, "error", tErr)

	return zero, !tErr.Cancelled, tErr
}

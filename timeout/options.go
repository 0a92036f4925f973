package timeout

import "time"

// Option configures an Executor at construction, or overrides its
// configuration for a single call.
type Option func(*options)

type options struct {
	policy      Policy
	operationID string
	label       string
}

const defaultLabel = "operation"

// WithPolicy replaces the whole policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p.clone()
	}
}

// WithRetryDurations replaces the ladder walked by Progressive.
//
//	timeout.Progressive(ctx, exec, op,
//	    timeout.WithRetryDurations(100*time.Millisecond, 200*time.Millisecond))
func WithRetryDurations(d ...time.Duration) Option {
	return func(o *options) {
		o.policy.RetryDurations = append([]time.Duration(nil), d...)
	}
}

// WithCeiling caps every attempt at d.
func WithCeiling(d time.Duration) Option {
	return func(o *options) {
		o.policy.Ceiling = d
	}
}

// WithCancelOnTimeout controls whether expiry signals the operation.
func WithCancelOnTimeout(cancel bool) Option {
	return func(o *options) {
		o.policy.CancelOnTimeout = cancel
	}
}

// WithOperationID registers the call's attempts under id so they can be
// cancelled with Executor.Cancel. Only meaningful per call.
func WithOperationID(id string) Option {
	return func(o *options) {
		o.operationID = id
	}
}

// WithLabel names the operation in errors, logs, metrics and spans.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

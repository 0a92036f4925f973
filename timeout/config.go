package timeout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vitalscan/scan-common/envutil"
	"gopkg.in/yaml.v3"
)

var ErrBadPolicyFile = errors.New("invalid timeout policy file")

// LoadPolicyFromEnv builds a Policy from the environment.
//
//   - TIMEOUT_POLICY_FILE: YAML or JSON policy file used as the base
//     (DefaultPolicy otherwise)
//   - TIMEOUT_RETRY_DURATIONS: comma separated ladder, "100ms" or bare millis
//   - TIMEOUT_CEILING: per-attempt cap, "500ms" or bare millis
//   - TIMEOUT_CANCEL_ON_TIMEOUT: whether expiry signals the operation
//
// Individual variables win over the file.
func LoadPolicyFromEnv(ctx context.Context) (Policy, error) {
	policy := DefaultPolicy()

	path := envutil.FilePath(ctx, "TIMEOUT_POLICY_FILE")
	if path.HasError() {
		_, err := path.Value()

		return Policy{}, err
	}

	if path.HasValue() {
		fromFile, err := LoadPolicyFile(path.ValueOrElse(""))
		if err != nil {
			return Policy{}, err
		}

		policy = fromFile
	}

	durations, err := envutil.DurationList(ctx, "TIMEOUT_RETRY_DURATIONS",
		envutil.Default(policy.RetryDurations)).Value()
	if err != nil {
		return Policy{}, err
	}

	ceiling, err := envutil.Duration(ctx, "TIMEOUT_CEILING",
		envutil.Default(policy.Ceiling)).Value()
	if err != nil {
		return Policy{}, err
	}

	cancel, err := envutil.Bool(ctx, "TIMEOUT_CANCEL_ON_TIMEOUT",
		envutil.Default(policy.CancelOnTimeout)).Value()
	if err != nil {
		return Policy{}, err
	}

	policy = Policy{
		RetryDurations:  durations,
		Ceiling:         ceiling,
		CancelOnTimeout: cancel,
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

// policyFile mirrors the recognised configuration keys. Missing keys keep
// their DefaultPolicy value.
//
//	retryDurations: [100ms, 200ms, 400]   # bare numbers are milliseconds
//	ceilingDuration: 1s
//	cancelUnderlyingOnTimeout: true
type policyFile struct {
	RetryDurations  []fileDuration `yaml:"retryDurations"`
	Ceiling         *fileDuration  `yaml:"ceilingDuration"`
	CancelOnTimeout *bool          `yaml:"cancelUnderlyingOnTimeout"`
}

type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a duration", ErrBadPolicyFile, node.Line)
	}

	parsed, err := envutil.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("%w: line %d: %w", ErrBadPolicyFile, node.Line, err)
	}

	*d = fileDuration(parsed)

	return nil
}

// LoadPolicyFile reads a YAML (or JSON) policy file and validates it.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return Policy{}, err
	}

	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML (or JSON) policy document and validates it.
func ParsePolicy(data []byte) (Policy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrBadPolicyFile, err)
	}

	policy := DefaultPolicy()

	if raw.RetryDurations != nil {
		policy.RetryDurations = make([]time.Duration, len(raw.RetryDurations))
		for i, d := range raw.RetryDurations {
			policy.RetryDurations[i] = time.Duration(d)
		}
	}

	if raw.Ceiling != nil {
		policy.Ceiling = time.Duration(*raw.Ceiling)
	}

	if raw.CancelOnTimeout != nil {
		policy.CancelOnTimeout = *raw.CancelOnTimeout
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}

	return policy, nil
}

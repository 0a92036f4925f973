// Package stage tells which deployment environment the process runs in,
// based on RUNNING_ENV.
package stage

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync"

	"github.com/vitalscan/scan-common/envutil"
)

type Stage string

var ErrUnrecognizedStage = errors.New("unrecognized stage")

const (
	Unknown Stage = "unknown"
	Local   Stage = "local"
	Test    Stage = "test"
	Dev     Stage = "dev"
	Staging Stage = "staging"
	Prod    Stage = "prod"
)

// Current returns the process stage. It is read once and cached.
func Current() Stage {
	return current()
}

var current = sync.OnceValue(func() Stage { //nolint:gochecknoglobals
	return Detect(context.Background())
})

func IsLocal() bool { return Current() == Local }
func IsProd() bool  { return Current() == Prod }

// Detect reads RUNNING_ENV without caching, honouring context overrides.
// Unset or unrecognised values give Test under `go test` and Unknown
// otherwise.
func Detect(ctx context.Context) Stage {
	env := envutil.Map(envutil.String(ctx, "RUNNING_ENV"), parse)

	if flag.Lookup("test.v") != nil {
		return env.ValueOrElse(Test)
	}

	return env.ValueOrElse(Unknown)
}

func parse(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case Local, Test, Dev, Staging, Prod:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedStage, s)
	}
}

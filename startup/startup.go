// Package startup loads environment files before configuration is read.
//
// ENV_FILE names one or more files separated by ";". Each may be a dotenv
// file (.env), or a JSON or YAML document with a top-level "env" map:
//
//	env:
//	  PROBE_TARGETS: store=http://localhost:54321/rest/v1/
//	  TIMEOUT_RETRY_DURATIONS: 100ms,200ms
//
// Later files win over earlier ones. Variables already present in the
// process environment are kept unless WithAllowOverride is given.
package startup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vitalscan/scan-common/envutil"
	"gopkg.in/yaml.v3"
)

var ErrUnknownFileType = errors.New("env file doesn't have a known file suffix")

type Option func(*options)

type options struct {
	allowOverride bool
}

// WithAllowOverride lets file values replace variables that are already set.
func WithAllowOverride(allow bool) Option {
	return func(o *options) {
		o.allowOverride = allow
	}
}

// ConfigureEnvironment loads the files listed in ENV_FILE, if any.
func ConfigureEnvironment(ctx context.Context, opts ...Option) error {
	files := envutil.Map(envutil.String(ctx, "ENV_FILE"), func(s string) ([]string, error) {
		var out []string

		for _, f := range strings.Split(s, ";") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}

		return out, nil
	}).ValueOrElse(nil)

	return ConfigureEnvironmentFromFiles(files, opts...)
}

// ConfigureEnvironmentFromFiles loads files into the process environment.
func ConfigureEnvironmentFromFiles(files []string, opts ...Option) error {
	cfg := &options{}

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	merged := make(map[string]string)

	for _, file := range files {
		env, err := LoadEnvFile(file)
		if err != nil {
			return fmt.Errorf("loading environment variables from file %q: %w", file, err)
		}

		maps.Copy(merged, env)
	}

	for k, v := range merged {
		if old, exists := os.LookupEnv(k); exists && (!cfg.allowOverride || old == v) {
			continue
		}

		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("setting environment variable %q: %w", k, err)
		}
	}

	return nil
}

// LoadEnvFile reads one file, choosing the format by its suffix.
func LoadEnvFile(path string) (map[string]string, error) {
	name := strings.ToLower(filepath.Base(path))

	switch {
	case strings.HasSuffix(name, ".env"):
		return godotenv.Read(path)
	case strings.HasSuffix(name, ".json"):
		return loadEnvDocument(path, json.Unmarshal)
	case strings.HasSuffix(name, ".yml"), strings.HasSuffix(name, ".yaml"):
		return loadEnvDocument(path, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileType, name)
	}
}

type envDocument struct {
	Env map[string]string `json:"env" yaml:"env"`
}

func loadEnvDocument(path string, unmarshal func([]byte, any) error) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, err
	}

	var doc envDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return doc.Env, nil
}

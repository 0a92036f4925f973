// Package envutil reads typed configuration from environment variables.
//
// Every reader takes a context so that callers (and tests) can override
// individual keys with WithEnvOverride without touching the process
// environment:
//
//	ceiling := envutil.Duration(ctx, "TIMEOUT_CEILING",
//	    envutil.Default(30*time.Second)).ValueOrElse(30*time.Second)
package envutil

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// get returns a Reader for key, preferring a context override.
func get(ctx context.Context, key string) Reader[string] {
	if val, ok := getEnvOverride(ctx, key); ok {
		return Reader[string]{key: key, present: true, value: val}
	}

	val, ok := os.LookupEnv(key)

	return Reader[string]{
		key:     key,
		present: ok,
		value:   val,
	}
}

// String returns a Reader for the given environment variable key.
func String(ctx context.Context, key string, opts ...Option[string]) Reader[string] {
	return apply(get(ctx, key), opts)
}

// Strings reads a comma separated list. Blank entries are dropped.
func Strings(ctx context.Context, key string, opts ...Option[[]string]) Reader[[]string] {
	return apply(Map(get(ctx, key), splitList), opts)
}

func Bool(ctx context.Context, key string, opts ...Option[bool]) Reader[bool] {
	return apply(Map(Map(get(ctx, key), trim), strconv.ParseBool), opts)
}

func Int(ctx context.Context, key string, opts ...Option[int]) Reader[int] {
	return apply(Map(Map(get(ctx, key), trim), strconv.Atoi), opts)
}

// Duration parses values like "250ms" or "1m30s". A bare integer is a
// number of milliseconds, matching DurationList.
func Duration(ctx context.Context, key string, opts ...Option[time.Duration]) Reader[time.Duration] {
	return apply(Map(Map(get(ctx, key), trim), ParseDuration), opts)
}

// DurationList parses a comma separated list of durations. Each entry is
// either a Go duration ("100ms") or a bare integer meaning milliseconds,
// so "100,200,400" and "100ms,200ms,400ms" are equivalent.
func DurationList(ctx context.Context, key string, opts ...Option[[]time.Duration]) Reader[[]time.Duration] {
	return apply(Map(Map(get(ctx, key), splitList), parseDurations), opts)
}

// SlogLevel parses "debug", "info", "warn" or "error" (any case).
func SlogLevel(ctx context.Context, key string, opts ...Option[slog.Level]) Reader[slog.Level] {
	return apply(Map(Map(Map(get(ctx, key), trim), toLower), parseSlogLevel), opts)
}

// FilePath reads a path and checks that it names a regular file.
func FilePath(ctx context.Context, key string, opts ...Option[string]) Reader[string] {
	return apply(Map(Map(get(ctx, key), trim), pathIsFile), opts)
}

func trim(s string) (string, error) {
	return strings.TrimSpace(s), nil
}

func toLower(s string) (string, error) {
	return strings.ToLower(s), nil
}

func splitList(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out, nil
}

package envutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrNotAFile        = errors.New("path is not a regular file")
)

// ParseDuration accepts a Go duration string or a bare number of milliseconds.
func ParseDuration(value string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}

	return d, nil
}

func parseDurations(values []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(values))

	for _, v := range values {
		d, err := ParseDuration(v)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, nil
}

func parseSlogLevel(value string) (slog.Level, error) {
	switch value {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, value)
	}
}

func pathIsFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return path, err
	}

	if !info.Mode().IsRegular() {
		return path, fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	return path, nil
}

// Package logger wraps log/slog with context-carried fields.
//
// Configure once at startup with ConfigureLogging, then fetch a logger
// anywhere with Get(ctx). Values attached to the context (subsystem,
// request id, operation id and anything added via With) show up on every
// record produced by that logger.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalscan/scan-common/envutil"
	"github.com/vitalscan/scan-common/shutdown"
)

// Default subsystem name, set by ConfigureLogging.
var subsystem atomic.Value //nolint:gochecknoglobals

// configMutex serializes ConfigureLoggingWithOptions, which swaps global state.
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

const (
	keySubsystem   contextKey = "subsystem"
	keyRequestId   contextKey = "request_id"
	keyOperationId contextKey = "operation_id"
	keyLogger      contextKey = "logger"
	keyValues      contextKey = "loggerValues"
)

// ErrInvalidLogOutput is returned when LOG_OUTPUT names an unknown destination.
var ErrInvalidLogOutput = errors.New("invalid log output")

// Fatal logs an error message, runs shutdown hooks and exits.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)

	shutdown.Shutdown()

	time.Sleep(time.Second)

	os.Exit(1)
}

// Options is used to configure logging.
type Options struct {
	Subsystem   string
	JSON        bool
	MinLevel    slog.Level
	LegacyLevel slog.Level
	Output      io.Writer

	// Extra receives a copy of every record, e.g. an OpenTelemetry log bridge.
	Extra []slog.Handler
}

// Option is a functional option for ConfigureLogging.
type Option func(*Options)

// WithExtraHandler tees all records into h as well as the primary output.
func WithExtraHandler(h slog.Handler) Option {
	return func(o *Options) {
		if h != nil {
			o.Extra = append(o.Extra, h)
		}
	}
}

// ConfigureLoggingWithOptions installs the default slog logger (and the
// legacy log package output) and returns it.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.MinLevel}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	if len(opts.Extra) > 0 {
		handler = newFanout(append([]slog.Handler{handler}, opts.Extra...)...)
	}

	handler = ExpandErrors(handler)

	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Third party packages may still use the log package.
	def := log.Default()
	*def = *slog.NewLogLogger(handler, opts.LegacyLevel)

	subsystem.Store(opts.Subsystem)

	return logger
}

// ConfigureLogging configures logging from the environment:
//
//   - LOG_JSON: emit JSON instead of text (default false)
//   - LOG_LEVEL: minimum level (default info)
//   - LEGACY_LOG_LEVEL: level for the log package (default info)
//   - LOG_OUTPUT: stdout or stderr (default stdout)
func ConfigureLogging(ctx context.Context, app string, opts ...Option) *slog.Logger {
	logJSON := envutil.Bool(ctx, "LOG_JSON", envutil.Default(false)).ValueOrFatal()

	minLevel := envutil.SlogLevel(ctx, "LOG_LEVEL", envutil.Default(slog.LevelInfo)).ValueOrFatal()

	legacyLevel := envutil.SlogLevel(ctx, "LEGACY_LOG_LEVEL", envutil.Default(slog.LevelInfo)).ValueOrFatal()

	output := envutil.Map(envutil.String(ctx, "LOG_OUTPUT"), func(outName string) (io.Writer, error) {
		switch outName {
		case "stdout":
			return os.Stdout, nil
		case "stderr":
			return os.Stderr, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidLogOutput, outName)
		}
	}).WithDefault(os.Stdout).ValueOrFatal()

	options := Options{
		Subsystem:   app,
		JSON:        logJSON,
		MinLevel:    minLevel,
		LegacyLevel: legacyLevel,
		Output:      output,
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options)
}

// WithLogger makes Get return l (plus context fields) instead of the
// default logger. Tests use it to route output to the test log.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(orBackground(ctx), keyLogger, l)
}

// WithSubsystem overrides the default subsystem for this context.
func WithSubsystem(ctx context.Context, name string) context.Context {
	return context.WithValue(orBackground(ctx), keySubsystem, name)
}

// GetSubsystem returns the subsystem override, or the configured default.
func GetSubsystem(ctx context.Context) string {
	if sub, ok := orBackground(ctx).Value(keySubsystem).(string); ok {
		return sub
	}

	if sub, ok := subsystem.Load().(string); ok {
		return sub
	}

	return ""
}

// WithRequestId adds a request ID to the context.
func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(orBackground(ctx), keyRequestId, requestId)
}

// GetRequestId returns the request ID from the context, if any.
func GetRequestId(ctx context.Context) (string, bool) {
	val, ok := orBackground(ctx).Value(keyRequestId).(string)

	return val, ok
}

// WithOperationId tags the context with the handle of an in-flight
// timeout-governed operation.
func WithOperationId(ctx context.Context, operationId string) context.Context {
	return context.WithValue(orBackground(ctx), keyOperationId, operationId)
}

// GetOperationId returns the operation handle from the context, if any.
func GetOperationId(ctx context.Context) (string, bool) {
	val, ok := orBackground(ctx).Value(keyOperationId).(string)

	return val, ok
}

// hostname is the pod name in k8s, the machine name locally.
var hostname = sync.OnceValue(func() string { //nolint:gochecknoglobals
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}

	return h
})

// GetPodName returns the pod name (or hostname if not running in k8s).
func GetPodName() string {
	return hostname()
}

// Get returns a logger carrying the fields attached to ctx. With no
// context (or a nil one) it returns the default logger with the
// subsystem and pod name.
//
//nolint:contextcheck
func Get(ctx ...context.Context) *slog.Logger {
	realCtx := context.Background()

	for _, c := range ctx {
		if c != nil {
			realCtx = c

			break
		}
	}

	logger, ok := realCtx.Value(keyLogger).(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(
		"subsystem", GetSubsystem(realCtx),
		"pod", hostname())

	if requestId, found := GetRequestId(realCtx); found {
		logger = logger.With("request-id", requestId)
	}

	if operationId, found := GetOperationId(realCtx); found {
		logger = logger.With("operation-id", operationId)
	}

	if vals := getValues(realCtx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}

// With returns a context whose loggers include the given key-value pairs.
func With(ctx context.Context, values ...any) context.Context {
	if len(values) == 0 && ctx != nil {
		return ctx
	}

	ctx = orBackground(ctx)
	vals := slices.Concat(getValues(ctx), values)

	return context.WithValue(ctx, keyValues, vals)
}

func getValues(ctx context.Context) []any {
	vals, _ := ctx.Value(keyValues).([]any)

	return vals
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

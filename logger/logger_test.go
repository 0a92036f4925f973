package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any

	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		m := map[string]any{}
		require.NoError(t, json.Unmarshal(line, &m))

		out = append(out, m)
	}

	return out
}

func TestGet_ContextFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	base := slog.New(&slogErrorLogger{inner: slog.NewJSONHandler(&buf, nil)})

	ctx := WithLogger(t.Context(), base)
	ctx = WithSubsystem(ctx, "probe")
	ctx = WithRequestId(ctx, "req-1")
	ctx = WithOperationId(ctx, "op-7")
	ctx = With(ctx, "label", "rest")

	Get(ctx).Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "probe", lines[0]["subsystem"])
	assert.Equal(t, "req-1", lines[0]["request-id"])
	assert.Equal(t, "op-7", lines[0]["operation-id"])
	assert.Equal(t, "rest", lines[0]["label"])
	assert.Equal(t, GetPodName(), lines[0]["pod"])
}

func TestWith_DoesNotShareValues(t *testing.T) {
	t.Parallel()

	parent := With(t.Context(), "a", 1)
	left := With(parent, "b", 2)
	right := With(parent, "c", 3)

	assert.Equal(t, []any{"a", 1, "b", 2}, getValues(left))
	assert.Equal(t, []any{"a", 1, "c", 3}, getValues(right))
	assert.Same(t, parent, With(parent))
}

func TestAnnotateError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := slog.New(ExpandErrors(slog.NewJSONHandler(&buf, nil)))

	base := errors.New("boom") //nolint:err113 // Test error
	err := AnnotateError(base, "budget_ms", 200)

	require.ErrorIs(t, err, base)
	assert.Equal(t, "boom", err.Error())
	assert.NoError(t, AnnotateError(nil, "k", "v"))

	log.Error("failed", "error", err, "plain", errors.New("other")) //nolint:err113 // Test error

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "other", lines[0]["plain"])
	assert.InDelta(t, 200, lines[0]["budget_ms"], 0)
}

func TestFanout(t *testing.T) {
	t.Parallel()

	var infoBuf, debugBuf bytes.Buffer

	h := newFanout(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)

	log := slog.New(h).With("k", "v")
	log.Debug("debug only")
	log.Info("both")

	assert.Len(t, decodeLines(t, &infoBuf), 1)
	assert.Len(t, decodeLines(t, &debugBuf), 2)
}

func TestWithLogger_Slogt(t *testing.T) {
	t.Parallel()

	ctx := WithLogger(t.Context(), slogt.New(t))

	// Goes to the test log; nothing to assert beyond not panicking.
	Get(ctx).Debug("routed to the test log", "where", "slogt")
}

func TestConfigureLoggingWithOptions(t *testing.T) { //nolint:paralleltest
	var buf bytes.Buffer

	logger := ConfigureLoggingWithOptions(Options{
		Subsystem:   "test",
		JSON:        true,
		MinLevel:    slog.LevelDebug,
		LegacyLevel: slog.LevelInfo,
		Output:      &buf,
	})
	require.NotNil(t, logger)

	Get().Debug("configured")
	log.Println("legacy")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "test", lines[0]["subsystem"])
	assert.Equal(t, "legacy", lines[1]["msg"])

	ConfigureLoggingWithOptions(Options{Subsystem: "test"})
}

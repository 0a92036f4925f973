package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalscan/scan-common/http/transport"
	"github.com/vitalscan/scan-common/logger"
	"github.com/vitalscan/scan-common/timeout"
	"go.uber.org/atomic"
)

func testContext(t *testing.T) context.Context {
	t.Helper()

	return logger.WithLogger(t.Context(), slogt.New(t))
}

func newExecutor(durations ...time.Duration) *timeout.Executor {
	return timeout.New(timeout.WithPolicy(timeout.Policy{
		RetryDurations:  durations,
		Ceiling:         2 * time.Second,
		CancelOnTimeout: true,
	}))
}

func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	hits := atomic.NewInt32(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Inc()
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	return srv, hits
}

// hang holds the request open until the client gives up on it.
func hang(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func TestGet_Success(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"email":"a@example.com"}]`)
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(time.Second), WithHTTPClient(srv.Client()))

	rsp, err := client.Get(ctx, srv.URL+"/rest/v1/waitlist?limit=1")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.JSONEq(t, `[{"email":"a@example.com"}]`, string(rsp.Body))
	assert.Equal(t, "application/json", rsp.Header.Get("Content-Type"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_StatusIsNotRetried(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "down for maintenance")
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(time.Second, time.Second), WithHTTPClient(srv.Client()))

	_, err := client.Get(ctx, srv.URL)

	var sErr *StatusError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, http.StatusServiceUnavailable, sErr.StatusCode)
	assert.Equal(t, "down for maintenance", string(sErr.Body))
	assert.False(t, timeout.IsTimeout(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_SlowFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() == 1 {
			hang(r)

			return
		}

		_, _ = io.WriteString(w, "ok")
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(50*time.Millisecond, time.Second), WithHTTPClient(srv.Client()))

	rsp, err := client.Get(ctx, srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(rsp.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_NeverResponds(t *testing.T) {
	t.Parallel()

	srv, hits := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		hang(r)
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(20*time.Millisecond, 40*time.Millisecond), WithHTTPClient(srv.Client()))

	_, err := client.Get(ctx, srv.URL, timeout.WithLabel("auth-health"))

	var tErr *timeout.Error
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 40*time.Millisecond, tErr.Budget)
	assert.Equal(t, "auth-health", tErr.Label)
	assert.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDo_ReplaysBody(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 4)

	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)

		if len(bodies) == 1 {
			hang(r)

			return
		}

		w.WriteHeader(http.StatusCreated)
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(50*time.Millisecond, time.Second), WithHTTPClient(srv.Client()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, strings.NewReader(`{"email":"b@example.com"}`))
	require.NoError(t, err)

	rsp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rsp.StatusCode)

	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"email":"b@example.com"}`, <-bodies)
	assert.JSONEq(t, `{"email":"b@example.com"}`, <-bodies)
}

func TestDo_UnreplayableBody(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	client := New(ctx, newExecutor(time.Second))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://store.invalid/",
		io.NopCloser(bytes.NewReader([]byte("x"))))
	require.NoError(t, err)

	_, err = client.Do(req)
	require.ErrorIs(t, err, ErrUnreplayableBody)
}

func TestGet_BodyTooLarge(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	})

	ctx := testContext(t)
	client := New(ctx, newExecutor(time.Second), WithHTTPClient(srv.Client()), WithMaxBodyBytes(16))

	_, err := client.Get(ctx, srv.URL)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestGet_CallerCancel(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		hang(r)
	})

	ctx, cancel := context.WithCancel(testContext(t))
	client := New(ctx, newExecutor(time.Second, time.Second), WithHTTPClient(srv.Client()))

	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := client.Get(ctx, srv.URL)

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, timeout.IsTimeout(err))
}

func TestGet_CancelByHandle(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, func(_ http.ResponseWriter, r *http.Request) {
		hang(r)
	})

	ctx := testContext(t)
	exec := newExecutor(time.Second, time.Second)
	client := New(ctx, exec, WithHTTPClient(srv.Client()))

	errs := make(chan error, 1)

	go func() {
		_, err := client.Get(ctx, srv.URL, timeout.WithOperationID("probe-store"))
		errs <- err
	}()

	require.Eventually(t, func() bool { return exec.Cancel("probe-store") }, time.Second, time.Millisecond)
	require.ErrorIs(t, <-errs, timeout.ErrCancelled)
}

func TestNew_UsesContextTransport(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen <- req

		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("canned")),
			Request:    req,
		}, nil
	})

	ctx := logger.WithRequestId(transport.WithTransport(testContext(t), rt), "req-42")
	client := New(ctx, newExecutor(time.Second))

	rsp, err := client.Get(ctx, "https://functions.invalid/health")

	require.NoError(t, err)
	assert.Equal(t, "canned", string(rsp.Body))
	assert.Equal(t, "req-42", (<-seen).Header.Get("X-Request-Id"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Package fetch performs HTTP requests under a timeout.Executor.
//
// Every attempt of a request is bounded by the executor's budget ladder:
// an attempt that runs out of time is abandoned (its request context is
// cancelled) and retried with the next, larger budget. Transport errors
// and non-2xx responses are not timeouts and end the call straight away.
//
//	client := fetch.New(ctx, exec)
//	rsp, err := client.Get(ctx, "https://store.example.com/rest/v1/waitlist?limit=1",
//	    timeout.WithLabel("waitlist"))
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitalscan/scan-common/http/transport"
	"github.com/vitalscan/scan-common/logger"
	"github.com/vitalscan/scan-common/timeout"
)

const defaultMaxBodyBytes = 1 << 20

var (
	// ErrUnreplayableBody is returned for requests whose body cannot be
	// sent more than once (no GetBody), since a retry would send nothing.
	ErrUnreplayableBody = errors.New("request body cannot be replayed")

	ErrBodyTooLarge = errors.New("response body too large")
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.URL, e.Status)
}

// Client issues requests through a shared transport, each one governed by
// the executor it was built with.
type Client struct {
	exec         *timeout.Executor
	http         *http.Client
	maxBodyBytes int64
	callOpts     []timeout.Option
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout should be
// zero; the executor decides how long an attempt may take.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(cl *Client) {
		cl.maxBodyBytes = n
	}
}

// WithTimeoutOptions applies opts to every request made by the client.
// Options passed to Do take precedence.
func WithTimeoutOptions(opts ...timeout.Option) Option {
	return func(cl *Client) {
		cl.callOpts = append(cl.callOpts, opts...)
	}
}

// New returns a Client. Unless overridden, requests go through the
// shared DNS-caching transport (or the one set with transport.WithTransport).
func New(ctx context.Context, exec *timeout.Executor, opts ...Option) *Client {
	c := &Client{
		exec:         exec,
		maxBodyBytes: defaultMaxBodyBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Transport: transport.Get(ctx, transport.EnableDNSCache)}
	}

	return c
}

// Get fetches url. See Do.
func (c *Client) Get(ctx context.Context, url string, opts ...timeout.Option) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	return c.Do(req, opts...)
}

// Do sends req under the executor's progressive budgets and reads the
// whole body. The request's own context is the caller context: cancelling
// it stops the call without a timeout error.
func (c *Client) Do(req *http.Request, opts ...timeout.Option) (*Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrUnreplayableBody, req.Method, req.URL.Redacted())
	}

	ctx := req.Context()

	all := make([]timeout.Option, 0, len(c.callOpts)+len(opts)+1)
	all = append(all, timeout.WithLabel(req.Method+" "+req.URL.Host))
	all = append(all, c.callOpts...)
	all = append(all, opts...)

	return timeout.Progressive(ctx, c.exec, func(ctx context.Context, budget time.Duration) (*Response, error) {
		return c.attempt(ctx, req, budget)
	}, all...)
}

func (c *Client) attempt(ctx context.Context, orig *http.Request, budget time.Duration) (*Response, error) {
	req := orig.Clone(ctx)

	if orig.GetBody != nil {
		body, err := orig.GetBody()
		if err != nil {
			return nil, err
		}

		req.Body = body
	}

	if id, ok := logger.GetRequestId(ctx); ok && req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", id)
	}

	start := time.Now()

	rsp, err := c.http.Do(req)
	if err != nil {
		return nil, aborted(ctx, err)
	}

	defer func() {
		_ = rsp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(rsp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, aborted(ctx, err)
	}

	latency := time.Since(start)

	logger.Get(ctx).Debug("fetched",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", rsp.StatusCode,
		"latency", latency,
		"budget", budget)

	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, c.maxBodyBytes, req.URL.Redacted())
	}

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: rsp.StatusCode,
			Status:     rsp.Status,
			Body:       bytes.Clone(body),
		}
	}

	return &Response{
		StatusCode: rsp.StatusCode,
		Header:     rsp.Header,
		Body:       body,
		Latency:    latency,
	}, nil
}

// aborted ties err to the attempt's cancellation when that is what caused
// it; a body read cut short by cancellation does not always say so itself.
func aborted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	return err
}

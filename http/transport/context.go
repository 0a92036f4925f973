package transport

import (
	"context"
	"net/http"
)

type contextKey string

const contextKeyTransport contextKey = "http-transport"

// WithTransport makes Get return rt for this context.
func WithTransport(ctx context.Context, rt http.RoundTripper) context.Context {
	return context.WithValue(ctx, contextKeyTransport, rt)
}

func fromContext(ctx context.Context) http.RoundTripper {
	if ctx == nil {
		return nil
	}

	rt, _ := ctx.Value(contextKeyTransport).(http.RoundTripper)

	return rt
}

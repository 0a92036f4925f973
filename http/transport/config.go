package transport

import (
	"context"
	"net/http"

	"github.com/vitalscan/scan-common/envutil"
)

type Option func(*config)

// config is comparable so it can key the shared instances.
type config struct {
	disablePooling bool
	dnsCache       bool
	insecureTLS    bool
	override       http.RoundTripper
}

func DisableConnectionPooling(c *config) {
	c.disablePooling = true
}

// EnableDNSCache resolves hosts through a shared cache; see RefreshDNS.
func EnableDNSCache(c *config) {
	c.dnsCache = true
}

// InsecureTLS skips certificate verification. Only for test targets.
func InsecureTLS(c *config) {
	c.insecureTLS = true
}

// WithOverride makes Get return rt as is.
func WithOverride(rt http.RoundTripper) Option {
	return func(c *config) {
		c.override = rt
	}
}

func readOptions(ctx context.Context, opts ...Option) config {
	cfg := config{
		disablePooling: !envutil.Bool(ctx, "HTTP_TRANSPORT_PREFER_POOLED",
			envutil.Default(true)).ValueOrElse(true),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

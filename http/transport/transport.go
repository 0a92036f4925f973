// Package transport builds the http.RoundTripper used for outbound probes.
//
// Transports are tuned from the environment and shared: Get hands out one
// instance per combination of options so connection pools are reused.
// A transport placed in the context with WithTransport wins over all of
// that, which is how tests point clients at an httptest server.
//
// Environment variables:
//
//   - HTTP_TRANSPORT_PREFER_POOLED: keep-alive on by default (default: true)
//   - HTTP_TRANSPORT_MAX_IDLE_CONNS: maximum idle connections (default: 100)
//   - HTTP_TRANSPORT_IDLE_CONN_TIMEOUT: idle connection timeout (default: 90s)
//   - HTTP_TRANSPORT_TLS_HANDSHAKE_TIMEOUT: TLS handshake timeout (default: 10s)
//   - HTTP_TRANSPORT_DIAL_TIMEOUT: connection dial timeout (default: 30s)
//   - HTTP_TRANSPORT_DIAL_KEEPALIVE: TCP keep-alive period (default: 30s)
//   - HTTP_TRANSPORT_DISABLE_HTTP2: skip the HTTP/2 upgrade (default: true)
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vitalscan/scan-common/envutil"
)

const (
	defaultIdleConnTimeout       = 90 * time.Second
	defaultMaxIdleConns          = 100
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 30 * time.Second //nolint:mnd
	defaultKeepAlive             = 30 * time.Second //nolint:mnd
)

// New returns a fresh http.Transport. Prefer Get unless you need a
// transport nobody else shares.
func New(ctx context.Context, opts ...Option) *http.Transport {
	return create(ctx, readOptions(ctx, opts...))
}

func create(ctx context.Context, cfg config) *http.Transport {
	maxIdleConns := envutil.Int(ctx, "HTTP_TRANSPORT_MAX_IDLE_CONNS",
		envutil.Default(defaultMaxIdleConns)).
		ValueOrElse(defaultMaxIdleConns)

	idleConnTimeout := envutil.Duration(ctx, "HTTP_TRANSPORT_IDLE_CONN_TIMEOUT",
		envutil.Default(defaultIdleConnTimeout)).
		ValueOrElse(defaultIdleConnTimeout)

	tlsHandshakeTimeout := envutil.Duration(ctx, "HTTP_TRANSPORT_TLS_HANDSHAKE_TIMEOUT",
		envutil.Default(defaultTLSHandshakeTimeout)).
		ValueOrElse(defaultTLSHandshakeTimeout)

	dialTimeout := envutil.Duration(ctx, "HTTP_TRANSPORT_DIAL_TIMEOUT",
		envutil.Default(defaultDialTimeout)).
		ValueOrElse(defaultDialTimeout)

	keepAlive := envutil.Duration(ctx, "HTTP_TRANSPORT_DIAL_KEEPALIVE",
		envutil.Default(defaultKeepAlive)).
		ValueOrElse(defaultKeepAlive)

	disableHTTP2 := envutil.Bool(ctx, "HTTP_TRANSPORT_DISABLE_HTTP2",
		envutil.Default(true)).
		ValueOrElse(true)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	trans := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		DisableKeepAlives:     cfg.disablePooling,
	}

	if disableHTTP2 {
		trans.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	if cfg.dnsCache {
		trans.DialContext = cachedDialContext(dialer)
	}

	if cfg.insecureTLS {
		trans.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		}
	}

	return trans
}

// shared holds one transport per distinct config.
var shared sync.Map //nolint:gochecknoglobals

// Get returns the transport from the context if one was set, otherwise a
// shared transport matching opts.
func Get(ctx context.Context, opts ...Option) http.RoundTripper {
	if rt := fromContext(ctx); rt != nil {
		return rt
	}

	cfg := readOptions(ctx, opts...)
	if cfg.override != nil {
		return cfg.override
	}

	if rt, ok := shared.Load(cfg); ok {
		return rt.(http.RoundTripper) //nolint:forcetypeassert
	}

	rt, _ := shared.LoadOrStore(cfg, http.RoundTripper(NewDecompressor(create(ctx, cfg))))

	return rt.(http.RoundTripper) //nolint:forcetypeassert
}

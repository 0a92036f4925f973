package transport

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"
	"github.com/vitalscan/scan-common/logger"
)

// resolver is shared by every transport built with EnableDNSCache.
var resolver = &dnscache.Resolver{} //nolint:gochecknoglobals

// Probing many endpoints on the same few hosts otherwise hammers the
// system resolver, and slow lookups eat into the attempt budget.
func cachedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		var conn net.Conn

		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
		}

		return nil, err
	}
}

// RefreshDNS re-resolves cached hosts every interval until ctx is done,
// dropping entries nobody asked for since the previous refresh.
func RefreshDNS(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver.Refresh(true)
			logger.Get(ctx).Debug("refreshed dns cache")
		}
	}
}

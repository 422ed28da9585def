package backend

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const dnsRefreshInterval = 5 * time.Minute

var (
	dnsResolver     *dnscache.Resolver
	dnsResolverOnce sync.Once
)

// cachedResolver returns the process-wide DNS cache. Entries are refreshed
// in the background so an address change is picked up within one interval.
func cachedResolver() *dnscache.Resolver {
	dnsResolverOnce.Do(func() {
		dnsResolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(dnsRefreshInterval)
			defer ticker.Stop()
			for range ticker.C {
				dnsResolver.Refresh(true)
				log.Debug().Dur("interval", dnsRefreshInterval).Msg("Backend DNS cache refreshed")
			}
		}()
	})
	return dnsResolver
}

// dialContextWithCache resolves through the DNS cache and tries each address
// until one connects.
func dialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := cachedResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

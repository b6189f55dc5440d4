// Package provider implements the provider registry: one handle per upstream
// backend, each owning a credential pool and sharing cached outbound clients.
//
// This file provides the outbound HTTP plumbing: the tuned transport and the
// per-forward-proxy client cache.
package provider

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// ClientCache hands out shared outbound clients keyed by forward-proxy URL.
// The empty key is the direct client. Clients carry no overall timeout since
// they serve long-lived SSE streams; the transport holds the connect and TLS
// deadlines.
type ClientCache struct {
	mu       sync.Mutex
	resolver *dnscache.Resolver
	clients  map[string]*http.Client
}

// NewClientCache creates the cache and starts the DNS refresh loop.
func NewClientCache() *ClientCache {
	c := &ClientCache{
		resolver: &dnscache.Resolver{},
		clients:  make(map[string]*http.Client),
	}
	go func() {
		for range time.Tick(5 * time.Minute) {
			c.resolver.Refresh(true)
		}
	}()
	return c
}

// For returns the client for a forward-proxy URL ("" = direct). Unparseable
// proxy URLs fall back to the direct client with a warning.
func (c *ClientCache) For(proxyURL string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[proxyURL]; ok {
		return cl
	}

	t := NewTransport(c.resolver)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			slog.LogAttrs(context.Background(), slog.LevelWarn, "invalid forward proxy url, using direct",
				slog.String("proxy", proxyURL),
				slog.String("error", err.Error()),
			)
		} else {
			t.Proxy = http.ProxyURL(u)
		}
	}
	cl := &http.Client{Transport: t}
	c.clients[proxyURL] = cl
	return cl
}

// hopByHop headers that must not be forwarded between client and upstream.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// sanitizeHeader copies h minus hop-by-hop headers and the length fields the
// server recomputes on write.
func sanitizeHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, vals := range h {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		if key == "Content-Length" {
			continue
		}
		out[key] = vals
	}
	return out
}

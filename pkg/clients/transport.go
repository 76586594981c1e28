package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns an HTTP transport with per-host connection caps.
// Retries against a dead server must not pile up unbounded connections.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     32,
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

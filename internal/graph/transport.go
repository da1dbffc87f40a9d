package graph

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewHTTPTransport builds an *http.Client with a bounded dial timeout and
// a bounded time-to-first-response-byte, suitable for passing to
// NewClient in place of nil whenever network settings move away from
// their defaults. http.Client.Timeout is deliberately left at zero —
// downloadFromURL streams large files through the same client used for
// short metadata calls, and a blanket deadline would abort a legitimately
// long-running download. forceHTTP11 disables HTTP/2 negotiation, useful
// behind proxies that only speak HTTP/1.1.
func NewHTTPTransport(connectTimeout, dataTimeout time.Duration, forceHTTP11 bool) *http.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: dataTimeout,
	}

	if forceHTTP11 {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &http.Client{Transport: transport}
}

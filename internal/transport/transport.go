// Package transport builds the HTTP round trippers used to reach the storefront API.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Kind selects a transport implementation.
type Kind string

const (
	// KindStandard is net/http's default TLS stack.
	KindStandard Kind = "standard"

	// KindChrome presents Chrome's TLS fingerprint. Some storefront CDNs
	// rate-limit clients by JA3 fingerprint, and Go's stock TLS client is
	// easy to single out.
	KindChrome Kind = "chrome"
)

// New returns the round tripper for kind. An empty kind means standard.
func New(kind Kind, timeout time.Duration) (http.RoundTripper, error) {
	switch kind {
	case "", KindStandard:
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSHandshakeTimeout = timeout
		t.ResponseHeaderTimeout = timeout
		return t, nil
	case KindChrome:
		return NewChromeTransport(timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want standard or chrome)", kind)
	}
}

// NewChromeTransport creates an http.RoundTripper with Chrome's TLS
// fingerprint (uTLS HelloChrome_Auto). ALPN is left to negotiate h2 or
// http/1.1; h2 connections are framed by x/net/http2.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChromeTLS(ctx, dialer, network, addr)
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext:        dial,
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     false,
		},
	}
}

// chromeTransport sends HTTPS over HTTP/2 first and falls back to HTTP/1.1.
// Plain http:// requests go straight to HTTP/1.1.
type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip implements http.RoundTripper.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	// Requests with a consumed body cannot be replayed on the fallback.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}

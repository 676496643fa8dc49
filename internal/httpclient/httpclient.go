// Package httpclient builds the outbound HTTP plumbing shared by the listing
// fetcher and the metadata resolver.
package httpclient

import (
	"errors"
	"net"
	"net/http"
	"time"
)

// Config controls outbound request behavior.
type Config struct {
	// UserAgent is set on requests that do not already carry one.
	UserAgent string
	// Timeout bounds each request end to end. Zero means no timeout, so a
	// stalled remote can block the run indefinitely.
	Timeout time.Duration
}

// UserAgentTransport stamps a default User-Agent on outgoing requests.
type UserAgentTransport struct {
	Base      http.RoundTripper
	UserAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.UserAgent == "" || req.Header.Get("User-Agent") != "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.UserAgent)
	return base.RoundTrip(r)
}

// NewTransport returns a pooled transport wrapped with the configured user agent.
func NewTransport(cfg Config) http.RoundTripper {
	return &UserAgentTransport{
		Base:      newHTTPTransport(),
		UserAgent: cfg.UserAgent,
	}
}

// New returns an http.Client using NewTransport and cfg.Timeout.
func New(cfg Config) *http.Client {
	return &http.Client{
		Transport: NewTransport(cfg),
		Timeout:   cfg.Timeout,
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

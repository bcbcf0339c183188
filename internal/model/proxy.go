// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request for a target page.
type ProxyRequest struct {
	Ctx       context.Context
	RawTarget string
	Method    string     // GET or POST
	Form      url.Values // POST body fields; nil for GET
}

// ResolvedTarget is the normalized form of ProxyRequest.RawTarget.
type ResolvedTarget struct {
	Scheme string
	Origin string // scheme://host[:port]
	Path   string
	Query  string
	URL    *url.URL
}

// String returns the absolute target URL.
func (t *ResolvedTarget) String() string {
	return t.URL.String()
}

// UpstreamResponse is a fully read upstream response.
// Body has already been decoded according to Content-Encoding.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsRedirect reports whether the status code is in the 3xx range.
func (r *UpstreamResponse) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

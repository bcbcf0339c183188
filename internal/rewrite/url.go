package rewrite

import (
	"net/url"
	"strings"
)

// ProxyPath is the route every rewritten navigation reference points at.
const ProxyPath = "/website"

const proxiedPrefix = ProxyPath + "?url="

// Context carries the per-document values every rule needs.
type Context struct {
	// BaseOrigin is scheme://host[:port] of the proxied page, without a
	// trailing slash.
	BaseOrigin string
}

// Resolve returns the absolute form of ref. References starting with "http"
// are taken as already absolute; everything else is resolved against the
// origin's root.
func (c Context) Resolve(ref string) (string, bool) {
	base, err := url.Parse(c.BaseOrigin + "/")
	if err != nil {
		return "", false
	}
	return resolveAgainst(base, ref)
}

func resolveAgainst(base *url.URL, ref string) (string, bool) {
	if strings.HasPrefix(ref, "http") {
		return ref, true
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// ProxiedURL wraps an absolute URL into the proxy's navigation route.
func ProxiedURL(abs string) string {
	return proxiedPrefix + url.QueryEscape(abs)
}

// IsProxied reports whether ref already points at the proxy's navigation route.
func IsProxied(ref string) bool {
	return strings.HasPrefix(ref, proxiedPrefix)
}

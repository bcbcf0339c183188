package rewrite

import (
	"embed-proxy-go/internal/model"
)

// ResolveRedirect maps an upstream 3xx response to the ProxiedURL the client
// should be sent to. It reports false when the response is not a redirect,
// carries no Location header, or the Location cannot be resolved; the caller
// then treats the response as ordinary content.
func ResolveRedirect(resp *model.UpstreamResponse, ctx Context) (string, bool) {
	if !resp.IsRedirect() {
		return "", false
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", false
	}
	abs, ok := ctx.Resolve(loc)
	if !ok {
		return "", false
	}
	return ProxiedURL(abs), true
}

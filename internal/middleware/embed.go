package middleware

import (
	"github.com/labstack/echo/v4"
)

// FrameOptionsAllowAll is the non-standard X-Frame-Options value the proxied
// pages are served with so they can be framed by any origin.
const FrameOptionsAllowAll = "ALLOWALL"

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// EmbedHeaders returns an Echo middleware that strips hop-by-hop headers from
// the inbound request and marks every response as embeddable.
//
// Headers are set before the handler runs: once a handler writes its body the
// header map is already flushed.
func EmbedHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", FrameOptionsAllowAll)

			return next(c)
		}
	}
}

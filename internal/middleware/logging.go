// Package middleware provides Echo middleware for logging, metrics and
// embedding headers.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at warn level; the proxied target, when present,
// is included so a failing site can be found in the logs.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if res.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if target := req.URL.Query().Get("url"); target != "" {
				attrs = append(attrs, "target", target)
			}

			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}

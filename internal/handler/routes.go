package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The metrics
// endpoint is only mounted when enabled in config.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.GET("/website", proxy.Website)
	e.POST("/website", proxy.Website)
	e.GET("/fetch", proxy.Fetch)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

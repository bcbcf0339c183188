package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"embed-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of /proxy/status.
type statusResponse struct {
	Status              string `json:"status"`
	Version             string `json:"version"`
	UpstreamTimeout     int    `json:"upstream_timeout_seconds"`
	MaxRedirects        int    `json:"max_redirects"`
	DenyPrivateNetworks bool   `json:"deny_private_networks"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:              "ok",
		Version:             string(h.version),
		UpstreamTimeout:     h.cfg.Upstream.TimeoutSeconds,
		MaxRedirects:        h.cfg.Upstream.MaxRedirects,
		DenyPrivateNetworks: h.cfg.Upstream.DenyPrivateNetworks,
	})
}

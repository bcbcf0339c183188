package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"embed-proxy-go/internal/middleware"
	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/service"
	"embed-proxy-go/internal/target"
)

const htmlContentType = "text/html"

// ProxyHandler serves proxied pages.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Website serves /website. GET browses the target and returns the rewritten
// page; POST re-submits the client's form fields to the target.
func (h *ProxyHandler) Website(c echo.Context) error {
	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		RawTarget: c.QueryParam("url"),
		Method:    req.Method,
	}

	if strings.TrimSpace(pr.RawTarget) == "" {
		return h.mapError(c, service.ErrMissingParameter)
	}

	if req.Method == http.MethodPost {
		// FormParams parses both urlencoded and multipart bodies; PostForm
		// then holds only the body fields, without the url query parameter.
		if _, err := c.FormParams(); err != nil {
			h.logger.Warn("parse form body", "err", err)
			return c.JSON(http.StatusBadRequest, errorBody("Invalid form body"))
		}
		pr.Form = req.PostForm
	}

	res, err := h.service.Website(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, res)
}

// Fetch serves /fetch: redirects are followed upstream and only root-relative
// references are rewritten.
func (h *ProxyHandler) Fetch(c echo.Context) error {
	res, err := h.service.Fetch(&model.ProxyRequest{
		Ctx:       c.Request().Context(),
		RawTarget: c.QueryParam("url"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return h.respond(c, res)
}

// respond writes a service result. The status is always 200 for content,
// whatever the upstream answered.
func (h *ProxyHandler) respond(c echo.Context, res *service.Result) error {
	if res.Redirect != "" {
		return c.Redirect(http.StatusFound, res.Redirect)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set("X-Frame-Options", middleware.FrameOptionsAllowAll)
	return c.Blob(http.StatusOK, htmlContentType, res.Body)
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var (
		invalid    *target.InvalidTargetError
		upstream   *service.UpstreamUnavailableError
		submission *service.SubmissionError
	)

	switch {
	case errors.Is(err, service.ErrMissingParameter):
		h.logger.Warn("proxy error", "err", err, "path", c.Request().URL.Path)
		return c.JSON(http.StatusBadRequest, errorBody("URL parameter is required"))

	case errors.As(err, &invalid):
		h.logger.Warn("proxy error", "err", err, "path", c.Request().URL.Path)
		return c.JSON(http.StatusBadRequest, errorBody("Invalid URL provided"))

	case errors.As(err, &submission):
		h.logger.Error("proxy error", "err", err, "path", c.Request().URL.Path)
		return c.JSON(http.StatusInternalServerError, errorBody("Failed to submit form: "+submission.Err.Error()))

	case errors.As(err, &upstream):
		h.logger.Error("proxy error", "err", err, "path", c.Request().URL.Path)
		return c.JSON(http.StatusInternalServerError, errorBody("Failed to fetch website: "+upstream.Err.Error()))
	}

	h.logger.Error("proxy error", "err", err, "path", c.Request().URL.Path)
	return c.JSON(http.StatusInternalServerError, errorBody("Failed to fetch website: "+err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

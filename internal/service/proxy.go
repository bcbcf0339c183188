// Package service implements the proxy flows: fetch a target page, map
// upstream redirects back onto the proxy, and rewrite the document so it keeps
// working when served from the proxy's origin.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"embed-proxy-go/internal/client"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/rewrite"
	"embed-proxy-go/internal/target"
)

// ErrMissingParameter is returned when the request carries no target URL.
var ErrMissingParameter = errors.New("URL parameter is required")

// UpstreamUnavailableError reports a failed upstream fetch for a GET flow.
type UpstreamUnavailableError struct {
	Target string
	Err    error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// SubmissionError reports a failed upstream form submission.
type SubmissionError struct {
	Target string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Target, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Fetcher performs upstream requests. *client.UpstreamClient implements it.
type Fetcher interface {
	Fetch(ctx context.Context, r client.Request) (*model.UpstreamResponse, error)
}

// Result is the outcome of a proxy flow. Exactly one of Redirect or Body is
// meaningful: a non-empty Redirect is a ProxiedURL the client should be sent to.
type Result struct {
	Redirect       string
	Body           []byte
	UpstreamStatus int
}

// ProxyService runs the proxy flows against an upstream Fetcher.
type ProxyService struct {
	fetcher  Fetcher
	full     *rewrite.Rewriter
	rootOnly *rewrite.Rewriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(f Fetcher, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		fetcher:  f,
		full:     rewrite.New(rewrite.All),
		rootOnly: rewrite.New(rewrite.RootRelative),
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Website runs the /website flow: POST requests are submitted, anything else
// is browsed.
func (s *ProxyService) Website(pr *model.ProxyRequest) (*Result, error) {
	if pr.Method == http.MethodPost {
		return s.Submit(pr)
	}
	return s.Browse(pr)
}

// Browse fetches the target with GET and returns either the rewritten
// document or the proxied location of an upstream redirect. Redirects are
// never followed upstream, so the browser's address stays on the proxy.
func (s *ProxyService) Browse(pr *model.ProxyRequest) (*Result, error) {
	t, err := resolve(pr.RawTarget)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("browsing", "target", t.String())

	resp, err := s.fetcher.Fetch(pr.Ctx, client.Request{Method: http.MethodGet, URL: t.String()})
	if err != nil {
		s.outcome("website", "error")
		return nil, &UpstreamUnavailableError{Target: t.String(), Err: err}
	}

	ctx := rewrite.Context{BaseOrigin: t.Origin}
	if loc, ok := rewrite.ResolveRedirect(resp, ctx); ok {
		s.logger.Debug("upstream redirect",
			"target", t.String(),
			"status", resp.StatusCode,
			"location", resp.Header.Get("Location"),
		)
		s.outcome("website", "redirect")
		return &Result{Redirect: loc, UpstreamStatus: resp.StatusCode}, nil
	}

	body := s.full.Rewrite(resp.Body, ctx)
	s.outcome("website", "rewritten")
	s.observeRewrite(body)
	return &Result{Body: body, UpstreamStatus: resp.StatusCode}, nil
}

// Submit re-posts the client's form fields to the target. The upstream body
// is returned as-is, without rewriting; an upstream redirect is mapped to a
// proxied location like in Browse.
func (s *ProxyService) Submit(pr *model.ProxyRequest) (*Result, error) {
	t, err := resolve(pr.RawTarget)
	if err != nil {
		return nil, err
	}

	form := pr.Form
	if form == nil {
		form = url.Values{}
	}

	s.logger.Debug("submitting form", "target", t.String(), "fields", len(form))

	resp, err := s.fetcher.Fetch(pr.Ctx, client.Request{Method: http.MethodPost, URL: t.String(), Form: form})
	if err != nil {
		s.outcome("submit", "error")
		return nil, &SubmissionError{Target: t.String(), Err: err}
	}

	if loc, ok := rewrite.ResolveRedirect(resp, rewrite.Context{BaseOrigin: t.Origin}); ok {
		s.outcome("submit", "redirect")
		return &Result{Redirect: loc, UpstreamStatus: resp.StatusCode}, nil
	}

	s.outcome("submit", "raw")
	return &Result{Body: resp.Body, UpstreamStatus: resp.StatusCode}, nil
}

// Fetch retrieves the target following redirects upstream and applies only
// root-relative rewriting against the origin of the requested target.
func (s *ProxyService) Fetch(pr *model.ProxyRequest) (*Result, error) {
	t, err := resolve(pr.RawTarget)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("fetching", "target", t.String())

	resp, err := s.fetcher.Fetch(pr.Ctx, client.Request{Method: http.MethodGet, URL: t.String(), FollowRedirects: true})
	if err != nil {
		s.outcome("fetch", "error")
		return nil, &UpstreamUnavailableError{Target: t.String(), Err: err}
	}

	body := s.rootOnly.Rewrite(resp.Body, rewrite.Context{BaseOrigin: t.Origin})
	s.outcome("fetch", "rewritten")
	s.observeRewrite(body)
	return &Result{Body: body, UpstreamStatus: resp.StatusCode}, nil
}

func resolve(raw string) (*model.ResolvedTarget, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingParameter
	}
	return target.Resolve(raw)
}

func (s *ProxyService) outcome(route, outcome string) {
	if s.metrics != nil {
		s.metrics.ProxyOutcomes.WithLabelValues(route, outcome).Inc()
	}
}

func (s *ProxyService) observeRewrite(body []byte) {
	if s.metrics != nil {
		s.metrics.RewriteBytes.Observe(float64(len(body)))
	}
}

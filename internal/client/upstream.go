// Package client provides the upstream HTTP client used to fetch proxied pages.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/model"
)

// DefaultUserAgent is a desktop Chrome user agent; some sites serve bots a
// different page or nothing at all.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const formContentType = "application/x-www-form-urlencoded"

// browserHeaders is the fixed header profile sent with every upstream request.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Accept-Encoding":           "gzip, deflate, br",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// ErrBlockedAddress is returned when the SSRF guard refuses to dial an address.
var ErrBlockedAddress = errors.New("address is not publicly routable")

// ErrBodyTooLarge is returned when an upstream body exceeds upstream.max_body_bytes.
var ErrBodyTooLarge = errors.New("upstream body too large")

// Request describes a single upstream fetch.
type Request struct {
	Method string
	URL    string
	// Form, when non-nil, is sent form-encoded as the request body.
	Form url.Values
	// FollowRedirects makes the client follow 3xx responses itself. The
	// proxied navigation path leaves this off so redirects can be rewritten.
	FollowRedirects bool
}

// UpstreamClient fetches pages from arbitrary upstream sites.
type UpstreamClient struct {
	direct    *http.Client
	following *http.Client
	userAgent string
	maxBody   int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.Upstream.DenyPrivateNetworks {
		dialer.Control = denyPrivateAddress
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
	}
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	maxRedirects := cfg.Upstream.MaxRedirects

	userAgent := cfg.Upstream.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &UpstreamClient{
		direct: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		following: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBody:   cfg.Upstream.MaxBodyBytes,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Fetch issues r against the upstream and reads the decoded body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *UpstreamClient) Fetch(ctx context.Context, r Request) (*model.UpstreamResponse, error) {
	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if r.Form != nil {
		req.Header.Set("Content-Type", formContentType)
	}

	hc := c.direct
	if r.FollowRedirects {
		hc = c.following
	}

	resp, err := c.do(hc, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := readBody(resp, c.maxBody)
	if err != nil {
		if r.FollowRedirects || !isRedirect(resp) {
			return nil, fmt.Errorf("read upstream body: %w", err)
		}
		// The caller only needs status and Location from a redirect.
		c.logger.Debug("discarding redirect body",
			"host", req.URL.Host,
			"status", resp.StatusCode,
			"err", err,
		)
		data = []byte{}
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}

func isRedirect(resp *http.Response) bool {
	return resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != ""
}

func (c *UpstreamClient) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // closed by Fetch
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// denyPrivateAddress is a net.Dialer Control hook. It runs after name
// resolution, so it sees the address actually being dialed.
func denyPrivateAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("dial %s: %w", host, ErrBlockedAddress)
	}
	return nil
}

var reservedBlocks = mustParseCIDRs(
	"0.0.0.0/8",     // "this" network
	"100.64.0.0/10", // CGNAT
	"198.18.0.0/15", // benchmarking
	"240.0.0.0/4",   // reserved
)

func isPublicIP(ip net.IP) bool {
	if !ip.IsGlobalUnicast() || ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return false
	}
	for _, block := range reservedBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

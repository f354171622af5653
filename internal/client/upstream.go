// Package client provides the shared upstream HTTP client for the backend services.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"arctic-gateway/internal/config"
	"arctic-gateway/internal/metrics"
	"arctic-gateway/internal/model"
)

// UpstreamClient sends requests to the API and download services.
// One instance is shared by every request for the lifetime of the process.
type UpstreamClient struct {
	httpClient *http.Client
	transport  *http.Transport
	logger     *slog.Logger
	metrics    *metrics.Metrics
	closeOnce  sync.Once
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport: transport,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Do executes an HTTP request against the named upstream and reads the whole
// response. The timeout covers connect, write, and the full body read.
func (c *UpstreamClient) Do(upstream model.Upstream, req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"upstream", upstream,
		"method", req.Method,
		"path", req.URL.Path,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(upstream, method, start, 0)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(upstream, method, start, resp.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Send builds a request for url and executes it against the named upstream.
// A nil body sends no request body. The context bounds the upstream call, so a
// client disconnect cancels it.
func (c *UpstreamClient) Send(ctx context.Context, upstream model.Upstream, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
	}

	return c.Do(upstream, req)
}

// Close releases pooled connections. It is safe to call more than once.
func (c *UpstreamClient) Close() {
	c.closeOnce.Do(func() {
		c.logger.Debug("closing idle upstream connections")
		c.transport.CloseIdleConnections()
	})
}

// observe records latency and, when a status is known, the response counter.
func (c *UpstreamClient) observe(upstream model.Upstream, method string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	name := string(upstream)
	c.metrics.UpstreamDuration.WithLabelValues(name, method).Observe(time.Since(start).Seconds())
	if status == 0 {
		c.metrics.UpstreamErrors.WithLabelValues(name).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(name, method, strconv.Itoa(status)).Inc()
}

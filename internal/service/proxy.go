// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"arctic-gateway/internal/config"
	"arctic-gateway/internal/model"
)

// downloadPrefix selects the download service; every other API path goes to the backend.
const downloadPrefix = "shapefiles/"

// Sender executes a single upstream call. *client.UpstreamClient implements it.
type Sender interface {
	Send(ctx context.Context, upstream model.Upstream, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error)
}

// droppedRequestHeaders are recomputed by the outbound client and never forwarded.
var droppedRequestHeaders = []string{"Host", "Content-Length"}

// hopByHopHeaders are meaningful for a single transport leg only and are
// stripped from upstream responses before relaying.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// ProxyService routes API requests to exactly one upstream and relays the reply.
type ProxyService struct {
	client   Sender
	logger   *slog.Logger
	backend  *url.URL
	download *url.URL
}

// NewProxyService creates a ProxyService for the configured upstream origins.
func NewProxyService(c Sender, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	backend, err := url.Parse(cfg.Upstream.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream backend_url: %w", err)
	}
	download, err := url.Parse(cfg.Upstream.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream download_url: %w", err)
	}

	return &ProxyService{
		client:   c,
		logger:   logger.With("component", "proxy_service"),
		backend:  backend,
		download: download,
	}, nil
}

// Route picks the upstream for an API path (the part after "/api/") and
// returns the target URL without a query string.
func (s *ProxyService) Route(path string) (model.Upstream, *url.URL) {
	upstream, base := model.UpstreamBackend, s.backend
	if strings.HasPrefix(path, downloadPrefix) {
		upstream, base = model.UpstreamDownload, s.download
	}

	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/api/" + path
	u.RawPath = ""
	return upstream, &u
}

// Forward sends a ProxyRequest to its upstream and returns the response ready
// to relay: content decoded, JSON bodies re-serialized, and hop-by-hop
// headers removed. Any error means the caller should answer 500.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	ctx := pr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	upstream, target := s.Route(pr.Path)
	target.RawQuery = pr.Query.Encode()

	var body []byte
	if carriesBody(pr.Method) {
		body = pr.Body
		if body == nil {
			body = []byte{}
		}
	}

	s.logger.Debug("forwarding request",
		"upstream", upstream,
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.Send(ctx, upstream, pr.Method, target.String(), forwardHeaders(pr.Header), body)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", upstream, err)
	}

	if err := prepareResponse(resp); err != nil {
		return nil, fmt.Errorf("relay %s response: %w", upstream, err)
	}
	return resp, nil
}

// carriesBody reports whether the request body is forwarded for method.
func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// forwardHeaders copies every inbound header except Host and Content-Length,
// matching names case-insensitively.
func forwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if isDroppedRequestHeader(key) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func isDroppedRequestHeader(key string) bool {
	for _, h := range droppedRequestHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// relayHeaders copies upstream response headers minus hop-by-hop headers,
// including any named in the Connection header.
func relayHeaders(src http.Header) http.Header {
	connListed := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connListed[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[canonical] || connListed[canonical] {
			continue
		}
		dst[canonical] = vals
	}
	return dst
}

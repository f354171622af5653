package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"arctic-gateway/internal/model"
)

// Forwarder relays one API request to its upstream. *service.ProxyService implements it.
type Forwarder interface {
	Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error)
}

// ProxyHandler forwards /api/* requests to the backend services.
type ProxyHandler struct {
	service Forwarder
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the selected upstream and relays the response.
// An upstream JSON response with an empty body is relayed as-is, not as a 500.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   strings.TrimPrefix(req.URL.Path, "/api/"),
		Query:  req.URL.Query(),
		Header: req.Header,
	}

	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			// BodyLimit reports oversized bodies mid-read as a 413.
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return h.failure(c, fmt.Errorf("read request body: %w", err))
		}
		pr.Body = body
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.failure(c, err)
	}

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

// failure answers any forwarding error with a 500 and the error text.
func (h *ProxyHandler) failure(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": err.Error(),
	})
}

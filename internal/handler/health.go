package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"arctic-gateway/internal/config"
)

// ServiceName is reported by the liveness endpoint.
const ServiceName = "community-arctic-map"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type statusResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	BackendURL  string `json:"backend_url"`
	DownloadURL string `json:"download_url"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Health is the liveness probe. It never contacts the upstreams.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: ServiceName,
	})
}

// Status returns gateway build and routing information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:      "healthy",
		Service:     ServiceName,
		Version:     string(h.version),
		BackendURL:  h.cfg.Upstream.BackendURL,
		DownloadURL: h.cfg.Upstream.DownloadURL,
	})
}

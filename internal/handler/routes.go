package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arctic-gateway/internal/config"
	"arctic-gateway/internal/metrics"
)

// proxyMethods are the only methods forwarded to the upstreams.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// RegisterRoutes wires all route handlers onto the Echo instance. Echo prefers
// static and prefixed routes over the wildcard, so the frontend fallback only
// sees paths no other route claims.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler, static *StaticHandler) {
	e.GET("/health", health.Health)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Match(proxyMethods, "/api/*", proxy.Handle)

	e.GET(cfg.Static.AssetsPrefix+"/*", static.Assets(cfg.Static.AssetsPrefix))
	e.GET("/*", static.Fallback)
}

package handler

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"arctic-gateway/internal/config"
)

// StaticHandler serves the built frontend: files under the assets prefix, any
// other file that exists at the root, and the shell document for everything else.
type StaticHandler struct {
	fsys   fs.FS
	index  string
	logger *slog.Logger
}

// NewStaticHandler creates a StaticHandler rooted at cfg.Static.Root.
func NewStaticHandler(cfg *config.Config, logger *slog.Logger) *StaticHandler {
	logger = logger.With("component", "static_handler")

	root := cfg.Static.Root
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		logger.Warn("frontend build not found; navigation requests will return 404", "root", root)
	} else if _, err := os.Stat(filepath.Join(root, cfg.Static.Index)); err != nil {
		logger.Warn("shell document missing from frontend build", "root", root, "index", cfg.Static.Index)
	}

	return NewStaticHandlerFS(os.DirFS(root), cfg.Static.Index, logger)
}

// NewStaticHandlerFS creates a StaticHandler over any fs.FS, such as an embedded build.
func NewStaticHandlerFS(fsys fs.FS, index string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{fsys: fsys, index: index, logger: logger}
}

// Assets returns a handler serving the sub-tree under the given URL prefix.
// It must be registered at prefix+"/*" so only the prefix directory is claimed.
// Missing files are 404 and never fall back to the shell document.
func (h *StaticHandler) Assets(prefix string) echo.HandlerFunc {
	return echo.StaticDirectoryHandler(echo.MustSubFS(h.fsys, strings.Trim(prefix, "/")), false)
}

// Fallback serves the requested file when it exists at the root, else the shell
// document so the client-side router can take over.
func (h *StaticHandler) Fallback(c echo.Context) error {
	if name, ok := h.lookup(c.Request().URL.Path); ok {
		return echo.StaticFileHandler(name, h.fsys)(c)
	}

	h.logger.Debug("serving shell document", "path", c.Request().URL.Path)
	return echo.StaticFileHandler(h.index, h.fsys)(c)
}

// lookup maps a URL path to a regular file in the tree.
func (h *StaticHandler) lookup(urlPath string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	info, err := fs.Stat(h.fsys, name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return name, true
}

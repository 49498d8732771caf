// Package httpserver builds the ops HTTP server.
package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"supporterhub/internal/platform/config"
)

// Manual job runs can take minutes, so writes get a long deadline while
// headers and bodies stay short.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 10 * time.Minute
	idleTimeout       = time.Minute
)

// New builds the ops server. Requests inherit base, so a shutdown signal
// reaches in-flight handlers.
func New(base context.Context, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

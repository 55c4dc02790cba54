// Package server exposes the MCP connection manager over HTTP: the
// connection lifecycle endpoints under /mcp, the OAuth callback page, and
// the popup helper script.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"parley/internal/config"
	"parley/internal/oauth"
	"parley/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default timeout for writing responses.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// Server is the parley HTTP server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
}

// New builds the server. manager may be nil when the connection store is not
// configured; every /mcp endpoint then fails fast with 503.
func New(cfg config.Config, manager *oauth.Manager) *Server {
	handlers := &Handlers{
		manager:   manager,
		appOrigin: cfg.Server.PublicURL,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/connect", handlers.handleConnect)
	mux.HandleFunc("POST /mcp/list", handlers.handleList)
	mux.HandleFunc("POST /mcp/disconnect", handlers.handleDisconnect)
	mux.HandleFunc("GET "+cfg.OAuth.CallbackPath, handlers.handleCallback)
	mux.HandleFunc("GET /mcp/popup.js", handlers.handlePopupScript)
	mux.HandleFunc("GET /health", handlers.handleHealth)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		handlers: handlers,
	}
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logging.Info("Server", "Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Server", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

package mockapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultAddr matches the port the dashboard expects the backend on.
const DefaultAddr = ":8000"

// Server runs a Backend as a standalone HTTP server.
type Server struct {
	server  *http.Server
	backend *Backend
}

// NewServer creates a server for backend listening on addr.
func NewServer(addr string, backend *Backend) *Server {
	if backend == nil {
		backend = New()
	}
	if addr == "" {
		addr = DefaultAddr
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      backend.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{server: server, backend: backend}
}

// AddrFromEnv returns TMX_MOCK_ADDR or DefaultAddr.
func AddrFromEnv() string {
	if addr := os.Getenv("TMX_MOCK_ADDR"); addr != "" {
		return addr
	}
	return DefaultAddr
}

// Backend returns the state served by s.
func (s *Server) Backend() *Backend {
	return s.backend
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("Starting mock backend", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Stopping mock backend")
	return s.server.Shutdown(ctx)
}

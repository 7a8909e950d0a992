package observability

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server serves health and metrics endpoints on a dedicated listener, for
// deployments that keep them off the public chat port.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a new observability server listening on addr
func NewServer(addr string) *Server {
	return &Server{
		addr: addr,
	}
}

// Handler returns the mux serving /health, /health/live, /health/ready and /metrics
func Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start starts the observability server and blocks until it stops.
// A graceful Shutdown is not reported as an error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

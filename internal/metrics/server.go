package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the Prometheus exposition endpoint over plain HTTP, per
// SPEC_FULL.md §4.9. It is never reachable from the control-plane Unix
// socket and never consulted by the daemon.
type Server struct {
	addr   string
	path   string
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds a metrics server. path defaults to "/metrics".
func NewServer(addr, path string, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path, logger: logger}
}

// Start begins serving in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

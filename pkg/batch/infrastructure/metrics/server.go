package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// Server exposes /metrics on a listener of its own.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server for recorder on addr.
func NewServer(addr string, recorder *PrometheusRecorder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		logger.Infof("Metrics server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

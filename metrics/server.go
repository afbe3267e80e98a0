package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/farwydi/bookaware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /healthz and /metrics.
type Server struct {
	logger bookaware.Logger
	server *http.Server
}

func NewServer(addr string, m *Metrics, logger bookaware.Logger) *Server {
	if logger == nil {
		logger = bookaware.NewNopLogger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           loggingMiddleware(logger, mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run blocks until the server exits.
func (s *Server) Run() error {
	s.logger.Infow("metrics server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

func loggingMiddleware(logger bookaware.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codavoice/coda/internal/observe"
)

// Server hosts the probe endpoints and the Prometheus scrape endpoint on a
// dedicated listener, separate from the event feed.
type Server struct {
	handler *Handler
	log     *slog.Logger
	metrics *observe.Metrics

	httpServer *http.Server
	boundAddr  string
}

// NewServer wraps handler in an HTTP server. Pass nil for log to use the
// default logger and nil for metrics to skip request instrumentation.
func NewServer(handler *Handler, log *slog.Logger, metrics *observe.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: handler, log: log, metrics: metrics}
}

// Start binds addr and begins serving in a background goroutine. The metrics
// endpoint serves whatever the default Prometheus registry has collected,
// including the OpenTelemetry exporter's instruments.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", addr, err)
	}
	s.boundAddr = ln.Addr().String()

	mux := http.NewServeMux()
	s.handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(mux)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server terminated", "error", err)
		}
	}()

	s.log.Info("health server listening", "addr", s.boundAddr)
	return nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *Server) Addr() string { return s.boundAddr }

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog/log"
)

// ServerConfig for the admin HTTP server
type ServerConfig struct {
	BindAddress    string
	Port           int
	Secret         string
	MetricsHandler http.Handler // nil leaves /metrics unmounted
}

// Server serves pprof, metrics and the diagnostics endpoints on one port
type Server struct {
	config     ServerConfig
	handlers   *AdminHandlers
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates an admin server for rec
func NewServer(config ServerConfig, rec Recorder) *Server {
	return &Server{
		config:   config,
		handlers: NewAdminHandlers(rec),
	}
}

// Handler builds the HTTP mux
func (s *Server) Handler() http.Handler {
	httpMux := http.NewServeMux()

	// Register pprof handlers for profiling
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.config.MetricsHandler != nil {
		httpMux.Handle("/metrics", s.config.MetricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	RegisterRoutes(httpMux, s.handlers, s.config.Secret)
	return httpMux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("address", listener.Addr().String()).Msg("Starting admin HTTP server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	return nil
}

// Addr returns the bound address, useful when Port is 0
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to the context deadline
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("Stopping admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

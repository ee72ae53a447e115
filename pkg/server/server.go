// Package server exposes the capture pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"

	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/pipeline"
)

// Config configures the HTTP surface.
type Config struct {
	// Port is the TCP listen port.
	Port int `yaml:"port" json:"port"`

	// AuthToken, when set, is required as a bearer token on every /v1
	// route except health.
	AuthToken string `yaml:"auth_token" json:"-"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`

	// MaxConnections caps simultaneously accepted connections. Zero
	// means unlimited.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`

	// ShutdownGrace is how long in-flight requests may run after a
	// shutdown starts.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Port:              3000,
		MaxBodyBytes:      1 << 20,
		MaxConnections:    256,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownGrace:     30 * time.Second,
	}
}

// Server is the capture HTTP service.
type Server struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	engine   io.Closer
	log      *logging.Logger
	router   chi.Router
}

// New creates a Server. engine, if non-nil, is closed once Run has
// drained in-flight requests.
func New(cfg Config, p *pipeline.Pipeline, engine io.Closer, log *logging.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		engine:   engine,
		log:      log.Named("http"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)

	r.Route("/v1", func(api chi.Router) {
		api.NotFound(s.notFound)
		api.MethodNotAllowed(s.notFound)

		api.Get("/health", s.handleHealth)

		api.Group(func(auth chi.Router) {
			auth.Use(s.requireToken)
			auth.Post("/screenshots", s.handleScreenshot)
			auth.Post("/reports", s.handleReport)
			auth.Get("/test", s.handleTestPage)
		})
	})
	return r
}

// Run listens on the configured port and serves until ctx is done. It
// then drains in-flight requests and closes the engine.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Infof("listening on %s", ln.Addr())

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		s.log.Infof("shutting down, draining for up to %s", s.cfg.ShutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
			_ = srv.Close()
		}
		cancel()
		<-errCh
	}

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Warnf("engine close failed: %v", err)
			serveErr = errors.Join(serveErr, fmt.Errorf("close engine: %w", err))
		}
	}
	s.log.Infof("stopped")
	return serveErr
}

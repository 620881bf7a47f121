package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skynet-gcs/gcsbridge/internal/auth"
	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// Deps are the components the server exposes. Status ports may be nil.
type Deps struct {
	Store      SnapshotReader
	Registry   *session.Registry
	Dispatcher SessionHandler
	Auth       *auth.Middleware

	Telemetry TelemetryStatus
	Broadcast BroadcastStatus
	Modes     ModeStatus
}

// Options tunes the HTTP server and its WebSocket sessions.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty
	// or containing "*" allows any origin.
	AllowedOrigins []string

	WebSocket session.WebSocketOptions
}

// Server represents the HTTP API server.
type Server struct {
	deps     Deps
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if deps.Auth == nil {
		deps.Auth = auth.NewMiddleware()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:      deps,
		opts:      opts,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called. Serve after Stop returns
// immediately.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop closes every client session and gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	// Hijacked WebSocket connections are not tracked by Shutdown.
	if s.deps.Registry != nil {
		s.deps.Registry.CloseAll()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

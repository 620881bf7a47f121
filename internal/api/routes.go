package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/skynet-gcs/gcsbridge/internal/auth"
	"github.com/skynet-gcs/gcsbridge/internal/session"
)

// Routes.
const (
	TelemetryPath = "/telemetry"
	apiV1         = "/api/v1"
)

// RegisterRoutes registers the WebSocket endpoint and the v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Authenticated before the upgrade; viewers are admitted.
	mux.HandleFunc(TelemetryPath, s.handleTelemetry)

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	mux.HandleFunc(apiV1+"/snapshot", s.deps.Auth.RequireAuth(s.handleSnapshot))
	mux.HandleFunc(apiV1+"/sessions", s.deps.Auth.RequireAuth(s.deps.Auth.RequireRole(auth.RoleController)(s.handleSessions)))
}

// handleTelemetry handles GET /telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	claims, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		msg := "Invalid token"
		if errors.Is(err, auth.ErrMissingToken) {
			msg = "Authentication required"
		}
		s.logger.Debug("WebSocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
		WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", msg)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		s.logger.Warn("ClientTransportFailure", "op", "upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := session.NewWebSocket(conn, session.Info{
		Subject:     claims.Subject,
		Role:        claims.Role(),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}, s.opts.WebSocket)

	if err := s.deps.Registry.Add(sess); err != nil {
		s.logger.Error("Failed to register session", "session", sess.ID(), "error", err)
		_ = sess.Close()
		return
	}
	s.logger.Info("Client connected", "session", sess.ID(), "subject", claims.Subject,
		"role", claims.Role(), "remote", r.RemoteAddr, "clients", s.deps.Registry.Len())

	defer func() {
		s.deps.Registry.Remove(sess.ID())
		_ = sess.Close()
		s.logger.Info("Client disconnected", "session", sess.ID(),
			"duration", time.Since(sess.Info().ConnectedAt).Round(time.Millisecond),
			"clients", s.deps.Registry.Len())
	}()

	if err := s.deps.Dispatcher.Serve(r.Context(), sess); err != nil {
		s.logger.Debug("ClientTransportFailure", "session", sess.ID(), "op", "receive", "error", err)
	}
}

// handleSnapshot handles GET /snapshot
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	WriteSuccess(w, r, s.deps.Store.Read())
}

type sessionView struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Role        string    `json:"role"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Connected   string    `json:"connected"`
}

// handleSessions handles GET /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	list := s.deps.Registry.List()
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		info := sess.Info()
		out = append(out, sessionView{
			ID:          sess.ID(),
			Subject:     info.Subject,
			Role:        info.Role,
			RemoteAddr:  info.RemoteAddr,
			ConnectedAt: info.ConnectedAt,
			Connected:   humanize.Time(info.ConnectedAt),
		})
	}
	WriteSuccess(w, r, map[string]interface{}{"sessions": out})
}

type channelFailureView struct {
	Channel string    `json:"channel"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	uptime := time.Since(s.startTime)
	connected := s.deps.Store != nil && s.deps.Store.Read().Connected

	health := map[string]interface{}{
		"status":           "ok",
		"uptimeSec":        uptime.Seconds(),
		"uptime":           uptime.Round(time.Second).String(),
		"startedAt":        humanize.Time(s.startTime),
		"vehicleConnected": connected,
		"clients":          0,
	}
	if s.deps.Registry != nil {
		health["clients"] = s.deps.Registry.Len()
	}

	stale := []channelFailureView{}
	if s.deps.Telemetry != nil {
		for _, f := range s.deps.Telemetry.Stale() {
			stale = append(stale, channelFailureView{Channel: f.Channel.String(), Error: f.Err.Error(), At: f.At})
		}
		health["updates"] = s.deps.Telemetry.Updates()
	}
	health["staleChannels"] = stale

	if s.deps.Broadcast != nil {
		st := s.deps.Broadcast.Stats()
		health["broadcast"] = map[string]interface{}{
			"ticks":      st.Ticks,
			"broadcasts": st.Broadcasts,
			"deliveries": st.Deliveries,
			"drops":      st.Drops,
			"sent":       humanize.Bytes(st.Bytes),
		}
	}
	if s.deps.Dispatcher != nil {
		health["commands"] = s.deps.Dispatcher.Stats()
	}
	if s.deps.Modes != nil {
		health["flightMode"] = s.deps.Modes.State().String()
	}

	// Degraded telemetry is reported but the bridge keeps serving.
	if !connected || len(stale) > 0 {
		health["status"] = "degraded"
	}
	WriteSuccess(w, r, health)
}

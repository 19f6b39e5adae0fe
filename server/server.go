// Package server is the websocket front-end of the relay: it upgrades
// browser connections, decodes the client command protocol, dispatches into
// the relay, and implements relay.Notifier to push fan-out traffic back to
// the right connections.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabsandbox/relay/relay"
	"github.com/collabsandbox/relay/session"
)

// Server owns the HTTP listener, the websocket connections, and their
// registration with the relay.
type Server struct {
	relay  *relay.Relay
	config relay.ServerConfig
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn

	httpServer *http.Server
}

// New creates a Server and installs it as the relay's notifier.
func New(rel *relay.Relay, cfg relay.ServerConfig) *Server {
	s := &Server{
		relay:    rel,
		config:   cfg,
		logger:   rel.Logger().With(slog.String("component", "server")),
		upgrader: makeUpgrader(cfg.AllowedOrigins),
		conns:    make(map[string]*conn),
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
	}

	rel.SetNotifier(s)
	return s
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sandbox/status", s.handleSandboxStatus)
	r.Get("/sandbox/health", s.handleSandboxHealth)

	return r
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("relay listening", slog.String("addr", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.relay.Registry().Len(),
	})
}

type sessionSummary struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Channels  int    `json:"channels"`
	Members   int    `json:"members"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	registry := s.relay.Registry()
	sessions := registry.List()

	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{
			SessionID: sess.ID,
			Kind:      string(sess.Kind),
			Channels:  len(sess.Channels),
			Members:   len(registry.Members(sess.ID)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	s.proxySandbox(w, r, func(ctx context.Context) ([]byte, error) {
		return s.relay.Sandbox().Status(ctx)
	})
}

func (s *Server) handleSandboxHealth(w http.ResponseWriter, r *http.Request) {
	s.proxySandbox(w, r, func(ctx context.Context) ([]byte, error) {
		return s.relay.Sandbox().Health(ctx)
	})
}

func (s *Server) proxySandbox(w http.ResponseWriter, r *http.Request, call func(context.Context) ([]byte, error)) {
	if s.relay.Sandbox() == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sandbox backend configured"})
		return
	}

	body, err := call(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(uuid.NewString(), ws)
	s.addConn(c)

	s.logger.Debug("client connected", slog.String("conn_id", c.id))

	defer func() {
		s.removeConn(c.id)
		s.relay.LeaveConn(c.id)
		_ = ws.Close()
		s.logger.Debug("client disconnected", slog.String("conn_id", c.id))
	}()

	if s.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.config.MaxMessageBytes)
	}

	ctx := r.Context()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			_ = c.writeJSON(ack{Success: false, Error: "malformed command"})
			continue
		}

		s.dispatch(ctx, c, &cmd)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, cmd *command) {
	switch cmd.Command {
	case cmdCreateSession:
		s.handleCreate(ctx, c, cmd)

	case cmdJoinSession:
		err := s.relay.JoinSession(ctx, cmd.SessionID, c.id)
		s.reply(c, err)

	case cmdKillSession:
		err := s.relay.EndSession(ctx, cmd.SessionID)
		if errors.Is(err, relay.ErrTeardownPartial) {
			// The session is gone; the caller still learns teardown was
			// incomplete.
			_ = c.writeJSON(ack{Success: true, Error: err.Error()})
			return
		}
		s.reply(c, err)

	case cmdChatMessage:
		if err := s.relay.SendChat(ctx, c.id, cmd.Message); err != nil {
			s.logger.Warn("chat publish failed", slog.String("conn_id", c.id), slog.String("error", err.Error()))
		}

	case cmdSaveFile:
		if err := s.relay.SaveFile(ctx, c.id, cmd.Path, cmd.Content); err != nil {
			s.logger.Warn("save publish failed", slog.String("conn_id", c.id), slog.String("error", err.Error()))
		}

	case cmdTerminalCommand:
		if err := s.relay.RunCommand(ctx, c.id, cmd.InputCommand); err != nil {
			s.logger.Warn("command publish failed", slog.String("conn_id", c.id), slog.String("error", err.Error()))
		}

	case cmdInitProcess:
		// Sandbox init can take minutes; run it off the read loop so the
		// client can keep sending. The result always reaches the requester
		// as a push, and session members alongside it.
		go s.relay.InitSandbox(context.WithoutCancel(ctx), cmd.SessionID, c.id)

	case cmdInitAgents:
		err := s.relay.InitAgentConversation(ctx, cmd.SessionID)
		s.reply(c, err)

	default:
		_ = c.writeJSON(ack{Success: false, Error: fmt.Sprintf("unknown command: %s", cmd.Command)})
	}
}

func (s *Server) handleCreate(ctx context.Context, c *conn, cmd *command) {
	kind, err := session.ParseKind(cmd.kindValue())
	if err != nil {
		_ = c.writeJSON(ack{Success: false, Error: err.Error()})
		return
	}

	id, err := s.relay.StartSession(ctx, kind)
	if err != nil {
		_ = c.writeJSON(ack{Success: false, Error: err.Error()})
		return
	}

	// The creator is the session's first member.
	if err := s.relay.JoinSession(ctx, id, c.id); err != nil {
		_ = c.writeJSON(ack{Success: false, Error: err.Error()})
		return
	}

	_ = c.writeJSON(createdReply{SessionID: id})
}

func (s *Server) reply(c *conn, err error) {
	if err != nil {
		_ = c.writeJSON(ack{Success: false, Error: err.Error()})
		return
	}
	_ = c.writeJSON(ack{Success: true})
}

// Deliver implements relay.Notifier.
func (s *Server) Deliver(connID, channel string, payload []byte) {
	c := s.conn(connID)
	if c == nil {
		return
	}
	if err := c.writeJSON(push{
		Type:    pushNewMessage,
		Channel: channel,
		Message: string(payload),
	}); err != nil {
		s.logger.Warn("push failed", slog.String("conn_id", connID), slog.String("error", err.Error()))
	}
}

// SessionTerminated implements relay.Notifier.
func (s *Server) SessionTerminated(connID string) {
	c := s.conn(connID)
	if c == nil {
		return
	}
	_ = c.writeJSON(push{Type: pushSessionTerminated})
}

// InitResult implements relay.Notifier.
func (s *Server) InitResult(connID string, result relay.InitResult) {
	c := s.conn(connID)
	if c == nil {
		return
	}
	success := result.Success
	_ = c.writeJSON(push{
		Type:      pushInitResult,
		SessionID: result.SessionID,
		Success:   &success,
		Error:     result.Error,
	})
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) conn(id string) *conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

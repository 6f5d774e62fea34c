// internal/server/server.go

// Package server exposes the downstream HTTP surface: per-session SSE
// streams, snapshot polling, message submission, permission responses, and
// the buffering switch used during a client-driven session handoff.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/sessionrelay/internal/gate"
	"github.com/user/sessionrelay/internal/store"
	"github.com/user/sessionrelay/internal/stream"
	"github.com/user/sessionrelay/internal/types"
)

// Hydrator seeds local state for sessions with no local history yet.
type Hydrator interface {
	Hydrate(ctx context.Context, id types.SessionID) error
}

// Server is the HTTP handler for browser clients.
type Server struct {
	store     *store.Store
	gate      *gate.Gate
	manager   *stream.Manager
	agent     types.AgentClient
	hydrator  Hydrator
	keepalive time.Duration
	mux       *http.ServeMux
}

// New creates a Server wired to the store, gate, connection manager, and
// upstream command client. hydrator may be nil to disable first-load
// hydration.
func New(st *store.Store, g *gate.Gate, m *stream.Manager, agent types.AgentClient, hydrator Hydrator, keepalive time.Duration) *Server {
	s := &Server{
		store:     st,
		gate:      g,
		manager:   m,
		agent:     agent,
		hydrator:  hydrator,
		keepalive: keepalive,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/", s.handleSessionGet)
	s.mux.HandleFunc("POST /api/sessions/", s.handleSessionPost)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type sessionSummary struct {
	SessionID   types.SessionID `json:"sessionID"`
	LastUpdate  time.Time       `json:"lastUpdate"`
	Messages    int             `json:"messages"`
	Pending     int             `json:"pendingPermissions"`
	Subscribers int             `json:"subscribers"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	summaries := []sessionSummary{}
	for _, id := range s.store.Sessions() {
		state, ok := s.store.Snapshot(id)
		if !ok {
			continue
		}
		summaries = append(summaries, sessionSummary{
			SessionID:   id,
			LastUpdate:  state.LastUpdate,
			Messages:    len(state.Messages),
			Pending:     len(state.Permissions.Queue),
			Subscribers: s.manager.Count(id),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// splitSessionPath returns the session id and the remaining sub-path for a
// request under /api/sessions/.
func splitSessionPath(path string) (types.SessionID, string) {
	rest := strings.TrimPrefix(path, "/api/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	return types.SessionID(id), sub
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id, sub := splitSessionPath(r.URL.Path)
	if id == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}
	switch sub {
	case "":
		s.handleSnapshot(w, r, id)
	case "stream":
		s.handleStream(w, r, id)
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

func (s *Server) handleSessionPost(w http.ResponseWriter, r *http.Request) {
	id, sub := splitSessionPath(r.URL.Path)
	if id == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}
	switch {
	case sub == "messages":
		s.handleSendMessage(w, r, id)
	case sub == "buffer":
		s.handleBuffer(w, r, id)
	case strings.HasPrefix(sub, "permissions/"):
		perm := strings.TrimPrefix(sub, "permissions/")
		s.handleRespond(w, r, id, types.PermissionID(perm))
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

// hydrateIfUnknown seeds a session that has no local state yet from the
// upstream history API. Failures degrade to an empty snapshot.
func (s *Server) hydrateIfUnknown(ctx context.Context, id types.SessionID) {
	if s.store.Has(id) || s.hydrator == nil {
		return
	}
	if err := s.hydrator.Hydrate(ctx, id); err != nil {
		slog.Warn("hydration failed", "session_id", string(id), "error", err)
	}
}

// snapshot returns the session's current state, hydrating from upstream
// history when the session has no local state yet.
func (s *Server) snapshot(ctx context.Context, id types.SessionID) *types.SessionState {
	s.hydrateIfUnknown(ctx, id)
	if state, ok := s.store.Snapshot(id); ok {
		return state
	}
	// Unknown session: an empty-but-valid state, so a fresh subscription
	// still gets its snapshot frame immediately.
	return types.NewSessionState()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, id types.SessionID) {
	state := s.snapshot(r.Context(), id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stream.Frame{SessionID: id, State: state})
}

// handleStream hydrates before subscribing: hydration writes through the
// store's merge path, which publishes into the manager, so it cannot run
// inside the snapshot callback Subscribe holds its lock around.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, id types.SessionID) {
	s.hydrateIfUnknown(r.Context(), id)
	sub := s.manager.Subscribe(id, func() *types.SessionState {
		if state, ok := s.store.Snapshot(id); ok {
			return state
		}
		return types.NewSessionState()
	})
	slog.Info("stream opened", "session_id", string(id), "subscriber_id", string(sub.ID))
	stream.Serve(w, r, s.manager, sub, s.keepalive)
	slog.Info("stream closed", "session_id", string(id), "subscriber_id", string(sub.ID))
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, id types.SessionID) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}
	if err := s.agent.SendMessage(r.Context(), id, req.Text); err != nil {
		slog.Error("send message rejected", "session_id", string(id), "error", err)
		http.Error(w, `{"error":"upstream rejected message"}`, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

type respondRequest struct {
	Response types.PermissionResponse `json:"response"`
}

// handleRespond forwards a permission response upstream. Responding to a
// permission no longer pending is a harmless no-op: duplicate clicks and
// racing subscribers both land here. Exclusivity is deliberately absent; the
// upstream's own last-write-wins semantics decide the outcome.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request, id types.SessionID, perm types.PermissionID) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !types.ValidResponse(req.Response) {
		http.Error(w, `{"error":"response must be one of once, always, reject"}`, http.StatusBadRequest)
		return
	}
	if !s.store.HasPermission(id, perm) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}
	if err := s.agent.RespondPermission(r.Context(), id, perm, req.Response); err != nil {
		slog.Error("permission response rejected",
			"session_id", string(id), "permission_id", string(perm), "error", err)
		http.Error(w, `{"error":"upstream rejected response"}`, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "forwarded"})
}

type bufferRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request, id types.SessionID) {
	var req bufferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Enabled {
		s.gate.Enable(id)
	} else {
		s.gate.Disable(id)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"buffering": s.gate.Buffering(id)})
}

// Package tokenservice is the companion HTTP service that hands out
// mock session tokens for the web client. The tokens are placeholders,
// not a security boundary.
package tokenservice

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/optiflow/voiceagent/internal/middleware"
	"github.com/optiflow/voiceagent/pkg/config"
)

// Server serves the token and dispatch endpoints.
type Server struct {
	cfg    config.TokenServiceConfig
	logger *slog.Logger
	router chi.Router
}

// New builds the server and its routes.
func New(cfg config.TokenServiceConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowOrigins, cfg.CORSAllowMethods, cfg.CORSAllowHeaders))

	r.Get("/health", s.handleHealth)
	r.Post("/agent/dispatch", s.handleDispatch)
	r.Get("/agent/token", s.handleToken)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type dispatchRequest struct {
	RoomName string `json:"roomName"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	// A missing or malformed body falls back to defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = dispatchRequest{}
	}
	room := req.RoomName
	if room == "" {
		room = "default-room"
	}
	s.logger.Info("agent dispatch requested", "room", room)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Agent dispatched successfully",
		"data": map[string]any{
			"agent_id": "voice-agent-123",
			"connection_info": map[string]any{
				"token":      "mock-token-xyz",
				"room":       room,
				"service":    "livekit",
				"server_url": s.cfg.ServerURL,
			},
		},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = "default-room"
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "anonymous-user"
	}
	s.logger.Info("token requested", "room", room, "identity", identity)

	s.writeJSON(w, http.StatusOK, map[string]string{
		"token":      "mock-token-" + room + "-" + identity,
		"expires_at": "2025-05-16T00:00:00Z",
		"room":       room,
		"identity":   identity,
	})
}

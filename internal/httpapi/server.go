package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chattoz/internal/config"
	"github.com/ent0n29/chattoz/internal/memory"
	"github.com/ent0n29/chattoz/internal/observability"
	"github.com/ent0n29/chattoz/internal/relay"
	"github.com/ent0n29/chattoz/internal/session"
)

// Relay serves one websocket participant until inbound closes.
type Relay interface {
	RunConnection(ctx context.Context, p relay.Participant, inbound <-chan any) error
}

// Memories is the per-user memory surface exposed over HTTP.
type Memories interface {
	Save(ctx context.Context, userID, text string) (memory.Entry, error)
	List(ctx context.Context, userID string) ([]memory.Entry, error)
	Edit(ctx context.Context, userID, memoryID, newText string) (bool, error)
	Delete(ctx context.Context, userID, memoryID string) (bool, error)
}

type Server struct {
	cfg      config.Config
	sessions session.Registry
	relay    Relay
	memories Memories
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions session.Registry, rl Relay, memories Memories, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		relay:    rl,
		memories: memories,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/ws/{session_id}/{role}/{user_id}", s.handleSessionWS)

	r.Post("/v1/memory", s.handleSaveMemory)
	r.Get("/v1/memory/{user_id}", s.handleListMemories)
	r.Put("/v1/memory/{user_id}/{memory_id}", s.handleEditMemory)
	r.Delete("/v1/memory/{user_id}/{memory_id}", s.handleDeleteMemory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"session_store": storeMode(s.cfg.SessionStoreURL),
		"memory_store":  storeMode(s.cfg.MemoryStoreURL),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.sessions != nil && s.relay != nil
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":          status,
		"memory_api":      s.memories != nil,
		"session_store":   storeMode(s.cfg.SessionStoreURL),
		"memory_store":    storeMode(s.cfg.MemoryStoreURL),
		"embedding":       s.cfg.EmbeddingProvider,
		"llm_provider":    s.cfg.LLMProvider,
		"auto_reply_turn": s.cfg.AutoReplyMaxTurns,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// storeMode names a backend by URL scheme without echoing credentials.
func storeMode(storeURL string) string {
	u := strings.TrimSpace(storeURL)
	if u == "" {
		return "in-memory"
	}
	if i := strings.Index(u, "://"); i > 0 {
		return strings.ToLower(u[:i])
	}
	return "unknown"
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/chattoz/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	cfg := session.Config{
		HostLanguage:   strings.TrimSpace(req.HostLanguage),
		TargetLanguage: strings.TrimSpace(req.TargetLanguage),
		Mode:           mode,
		HostUserID:     strings.TrimSpace(req.HostUserID),
	}
	if cfg.HostLanguage == "" || cfg.TargetLanguage == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "host_language and target_language are required")
		return
	}

	sess, err := s.sessions.Create(r.Context(), cfg)
	if err != nil {
		s.logger.Error("create session", "err", err)
		respondError(w, http.StatusInternalServerError, "session_store_failed", "could not create session")
		return
	}
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, s.sessionResponse(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get session", "session_id", id, "err", err)
		respondError(w, http.StatusInternalServerError, "session_store_failed", "could not load session")
		return
	}
	respondJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) sessionResponse(sess *session.Session) session.CreateResponse {
	return session.CreateResponse{
		SessionID:      sess.ID,
		ShortURL:       s.cfg.PublicBaseURL + "/" + sess.ID,
		HostLanguage:   sess.HostLanguage,
		TargetLanguage: sess.TargetLanguage,
		Mode:           sess.Mode,
		ExpiresAt:      sess.ExpiresAt,
	}
}

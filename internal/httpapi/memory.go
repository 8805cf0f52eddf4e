package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/chattoz/internal/memory"
)

type saveMemoryRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type editMemoryRequest struct {
	Message string `json:"message"`
}

// memoryView is an entry without its embedding vector.
type memoryView struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

func toMemoryView(e memory.Entry) memoryView {
	return memoryView{ID: e.ID, Message: e.Message, Summary: e.Summary, Timestamp: e.CreatedAt}
}

func (s *Server) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory store not configured")
		return
	}
	var req saveMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and message are required")
		return
	}

	entry, err := s.memories.Save(r.Context(), req.UserID, req.Message)
	if err != nil {
		s.logger.Error("save memory", "user_id", req.UserID, "err", err)
		respondError(w, http.StatusInternalServerError, "memory_store_failed", "could not save memory")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"status":        "success",
		"saved_message": req.Message,
		"memory":        toMemoryView(entry),
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	entries, err := s.memories.List(r.Context(), userID)
	if err != nil {
		s.logger.Error("list memories", "user_id", userID, "err", err)
		respondError(w, http.StatusInternalServerError, "memory_store_failed", "could not list memories")
		return
	}
	views := make([]memoryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toMemoryView(e))
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "memories": views})
}

func (s *Server) handleEditMemory(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	memoryID := strings.TrimSpace(chi.URLParam(r, "memory_id"))
	var req editMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ok, err := s.memories.Edit(r.Context(), userID, memoryID, req.Message)
	if err != nil {
		s.logger.Error("edit memory", "user_id", userID, "memory_id", memoryID, "err", err)
		respondError(w, http.StatusInternalServerError, "memory_store_failed", "could not edit memory")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "memory_not_found", "memory not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"memory_id":   memoryID,
		"new_message": strings.TrimSpace(req.Message),
	})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if s.memories == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory store not configured")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	memoryID := strings.TrimSpace(chi.URLParam(r, "memory_id"))

	ok, err := s.memories.Delete(r.Context(), userID, memoryID)
	if err != nil {
		s.logger.Error("delete memory", "user_id", userID, "memory_id", memoryID, "err", err)
		respondError(w, http.StatusInternalServerError, "memory_store_failed", "could not delete memory")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "memory_not_found", "memory not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "success", "memory_id": memoryID})
}

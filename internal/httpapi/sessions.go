package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/onboarding/internal/memory"
)

type conversationResponse struct {
	UserID  string         `json:"user_id"`
	Entries []memory.Entry `json:"entries"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session store not configured")
		return
	}
	mem, ok := s.sessions.Snapshot(userID)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no onboarding memory for user")
		return
	}
	respondJSON(w, http.StatusOK, mem)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	if s.log == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "conversation log not configured")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.log.ForUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("conversation_read_failed")
		respondError(w, http.StatusInternalServerError, "conversation_unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	respondJSON(w, http.StatusOK, conversationResponse{UserID: userID, Entries: entries})
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/ember/internal/conversation"
	"github.com/ent0n29/ember/internal/pipeline"
)

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, reused := s.dedup.Reserve()
	if reused {
		s.metrics.SessionEvents.WithLabelValues("reused").Inc()
		respondJSON(w, http.StatusOK, map[string]string{"session_id": id})
		return
	}

	if err := s.store.Create(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "session_create_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	res, err := s.orchestrator.EndSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, pipeline.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "end_session_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, err := s.store.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "history_load_failed", err.Error())
		return
	}
	if history == nil {
		history = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":   sessionID,
		"conversation": history,
	})
}

type sessionListItem struct {
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title"`
	Preview    string    `json:"preview"`
	Status     string    `json:"status"`
	HasSummary bool      `json:"has_summary"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func listItem(rec conversation.Record) sessionListItem {
	return sessionListItem{
		SessionID:  rec.SessionID,
		Title:      rec.Title,
		Preview:    rec.Preview,
		Status:     string(rec.Status),
		HasSummary: rec.SummaryGenerated,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_list_failed", err.Error())
		return
	}
	items := make([]sessionListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, listItem(rec))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	rec, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.store.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_delete_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    "Session deleted",
		"session_id": sessionID,
	})
}

func (s *Server) handleDeleteSessionsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionIDs []string `json:"session_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.SessionIDs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_ids must not be empty")
		return
	}

	deleted, err := s.store.DeleteBatch(r.Context(), req.SessionIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_delete_failed", err.Error())
		return
	}
	for range deleted {
		s.metrics.SessionEvents.WithLabelValues("deleted").Inc()
	}
	if deleted == nil {
		deleted = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted_count":       len(deleted),
		"deleted_session_ids": deleted,
	})
}

func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// The body is optional; force_regenerate defaults to false.
	var req struct {
		ForceRegenerate bool `json:"force_regenerate"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rec, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_load_failed", err.Error())
		return
	}

	if rec.Status != conversation.StatusEnded {
		respondError(w, http.StatusBadRequest, "session_not_ended", "session must be ended before summarizing")
		return
	}
	if len(rec.History) < 2 {
		respondError(w, http.StatusBadRequest, "session_too_short", "session too short to summarize")
		return
	}
	if rec.SummaryGenerated && !req.ForceRegenerate {
		respondJSON(w, http.StatusOK, map[string]any{
			"message":           "Summary already exists",
			"summary_generated": true,
			"summary": conversation.Summary{
				Summary:      rec.Summary,
				Struggles:    rec.Struggles,
				Observations: rec.Observations,
				Tips:         rec.Tips,
			},
		})
		return
	}

	summary := s.orchestrator.GenerateSummary(r.Context(), sessionID, rec.History)
	if err := s.store.SaveSummary(r.Context(), sessionID, summary); err != nil {
		respondError(w, http.StatusInternalServerError, "summary_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":           "Summary generated",
		"summary_generated": true,
		"summary":           summary,
	})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	rec, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "session_load_failed", err.Error())
		return
	}

	if !rec.SummaryGenerated {
		respondJSON(w, http.StatusOK, map[string]any{
			"session_id":     sessionID,
			"summary_exists": false,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":     sessionID,
		"summary_exists": true,
		"summary":        rec.Summary,
		"struggles":      rec.Struggles,
		"observations":   rec.Observations,
		"tips":           rec.Tips,
		"generated_at":   rec.SummaryGeneratedAt,
	})
}

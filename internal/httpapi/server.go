package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/ember/internal/artifact"
	"github.com/ent0n29/ember/internal/config"
	"github.com/ent0n29/ember/internal/conversation"
	"github.com/ent0n29/ember/internal/observability"
	"github.com/ent0n29/ember/internal/pipeline"
	"github.com/ent0n29/ember/internal/session"
)

// Orchestrator is the slice of the turn pipeline the HTTP layer drives.
type Orchestrator interface {
	VoiceTurn(ctx context.Context, sessionID string, audio []byte, contentType string) (pipeline.VoiceResult, error)
	TextTurn(ctx context.Context, sessionID, message string) (string, error)
	EndSession(ctx context.Context, sessionID string) (pipeline.EndResult, error)
	DebugTranscribe(ctx context.Context, audio []byte, contentType string) (string, error)
	GenerateSummary(ctx context.Context, sessionID string, history []string) conversation.Summary
}

type Server struct {
	cfg          config.Config
	store        conversation.Store
	orchestrator Orchestrator
	dedup        *session.DedupCache
	artifacts    *artifact.Manager
	metrics      *observability.Metrics
}

func New(cfg config.Config, store conversation.Store, orchestrator Orchestrator, dedup *session.DedupCache, artifacts *artifact.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		dedup:        dedup,
		artifacts:    artifacts,
		metrics:      metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware(s.cfg.AllowAnyOrigin))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/start-session", s.handleStartSession)
	r.Post("/run-model", s.handleVoiceTurn)
	r.Post("/chat", s.handleChat)
	r.Post("/end-session", s.handleEndSession)
	r.Get("/audio-files/{filename}", s.handleServeAudio)
	r.Get("/conversation-history/{sessionID}", s.handleConversationHistory)

	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Delete("/sessions/batch", s.handleDeleteSessionsBatch)
	r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	r.Post("/sessions/{sessionID}/generate-summary", s.handleGenerateSummary)
	r.Get("/sessions/{sessionID}/summary", s.handleGetSummary)

	r.Post("/debug-transcribe", s.handleDebugTranscribe)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Voice companion backend is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = "unavailable"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"database": dbStatus,
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

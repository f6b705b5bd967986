package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/ember/internal/artifact"
	"github.com/ent0n29/ember/internal/pipeline"
	"github.com/ent0n29/ember/internal/transcribe"
)

// maxUploadBytes bounds a single audio upload. Clips are short; anything
// larger is a client bug.
const maxUploadBytes = 32 << 20

func readUpload(r *http.Request) (audio []byte, contentType string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	audio, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", err
	}

	contentType = header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = transcribe.ContentTypeForFilename(header.Filename)
	}
	return audio, contentType, nil
}

func (s *Server) handleVoiceTurn(w http.ResponseWriter, r *http.Request) {
	audio, contentType, err := readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	res, err := s.orchestrator.VoiceTurn(r.Context(), sessionID, audio, contentType)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
		case errors.Is(err, pipeline.ErrEmptyUpload):
			respondError(w, http.StatusBadRequest, "empty_upload", "uploaded audio is empty")
		default:
			respondError(w, http.StatusInternalServerError, "voice_turn_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	reply, err := s.orchestrator.TextTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, pipeline.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"session_id": req.SessionID,
		"message":    req.Message,
		"response":   reply,
	})
}

func (s *Server) handleServeAudio(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !artifact.IsServableOutput(filename) {
		respondError(w, http.StatusNotFound, "audio_not_found", "audio file not found")
		return
	}

	path := s.artifacts.Path(filename)
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, "audio_not_found", "audio file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

func (s *Server) handleDebugTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, contentType, err := readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	text, err := s.orchestrator.DebugTranscribe(r.Context(), audio, contentType)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyUpload) {
			respondError(w, http.StatusBadRequest, "empty_upload", "uploaded audio is empty")
			return
		}
		respondError(w, http.StatusInternalServerError, "transcribe_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

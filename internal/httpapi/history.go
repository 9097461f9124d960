package httpapi

import (
	"net/http"
	"strings"

	"github.com/tbellini/gizmo/internal/history"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.Messages(r.Context())
	if err != nil {
		s.respondUpstreamError(w, "history", err)
		return
	}
	if messages == nil {
		messages = []history.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.respondUpstreamError(w, "history", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

type speakRequest struct {
	Text string `json:"text"`
}

// handleSpeak voices arbitrary text through the speech chain without touching
// the transcript.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text must not be empty")
		return
	}

	s.coordinator.Present(r.Context(), "", req.Text)
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "speaking"})
}

func (s *Server) handleSpeakStop(w http.ResponseWriter, _ *http.Request) {
	s.coordinator.Stop()
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tbellini/gizmo/internal/avatar"
)

type createAvatarSessionRequest struct {
	AvatarID string `json:"avatarId,omitempty"`
	Quality  string `json:"quality,omitempty"`
}

func (s *Server) handleCreateAvatarSession(w http.ResponseWriter, r *http.Request) {
	var req createAvatarSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	sess, err := s.avatars.CreateSession(r.Context(), req.AvatarID, req.Quality)
	if err != nil {
		s.countRelay("heygen_create", "error")
		s.respondUpstreamError(w, "heygen", err)
		return
	}

	avatarID := strings.TrimSpace(req.AvatarID)
	if avatarID == "" {
		avatarID = s.cfg.HeyGenAvatarID
	}
	quality := strings.TrimSpace(req.Quality)
	if quality == "" {
		quality = s.cfg.HeyGenQuality
	}
	s.sessions.Track(sess.SessionID, avatarID, quality)
	s.setActiveSessionsGauge()
	s.countRelay("heygen_create", "ok")

	respondJSON(w, http.StatusOK, sess)
}

type avatarSpeakRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	TaskType  string `json:"taskType,omitempty"`
}

func (s *Server) handleAvatarSpeak(w http.ResponseWriter, r *http.Request) {
	var req avatarSpeakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sessionId must not be empty")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text must not be empty")
		return
	}

	taskID, err := s.avatars.Speak(r.Context(), req.SessionID, req.Text, req.TaskType)
	if err != nil {
		s.countRelay("heygen_speak", "error")
		s.respondUpstreamError(w, "heygen", err)
		return
	}
	_ = s.sessions.Touch(req.SessionID)
	s.countRelay("heygen_speak", "ok")

	// The vendor payload is relayed verbatim, snake_case key included.
	respondJSON(w, http.StatusOK, map[string]any{"task_id": taskID})
}

type closeAvatarSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCloseAvatarSession(w http.ResponseWriter, r *http.Request) {
	var req closeAvatarSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sessionId must not be empty")
		return
	}

	if err := s.avatars.CloseSession(r.Context(), req.SessionID); err != nil {
		s.countRelay("heygen_close", "error")
		s.respondUpstreamError(w, "heygen", err)
		return
	}
	_, _ = s.sessions.Close(req.SessionID)
	s.setActiveSessionsGauge()
	s.countRelay("heygen_close", "ok")

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListAvatars(w http.ResponseWriter, r *http.Request) {
	avatars, err := s.avatars.ListAvatars(r.Context())
	if err != nil {
		s.countRelay("heygen_avatars", "error")
		s.respondUpstreamError(w, "heygen", err)
		return
	}
	s.countRelay("heygen_avatars", "ok")
	if avatars == nil {
		avatars = []avatar.AvatarInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
}

func (s *Server) setActiveSessionsGauge() {
	if s.metrics != nil && s.sessions != nil {
		s.metrics.ActiveAvatarSessions.Set(float64(s.sessions.ActiveCount()))
	}
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/history"
	"github.com/tbellini/gizmo/internal/protocol"
	"github.com/tbellini/gizmo/internal/turn"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Response string       `json:"response"`
	Usage    *brain.Usage `json:"usage,omitempty"`
}

// handleChat is the stateless relay: the caller supplies the whole
// conversation and nothing is recorded server side.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "messages must be a non-empty array")
		return
	}

	msgs := make([]history.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := strings.TrimSpace(m.Role)
		if role != string(history.RoleUser) && role != string(history.RoleAssistant) {
			respondError(w, http.StatusBadRequest, "invalid_request", "message role must be user or assistant")
			return
		}
		msgs = append(msgs, history.Message{Role: history.Role(role), Content: m.Content})
	}

	system := strings.TrimSpace(req.System)
	if system == "" {
		system = s.cfg.SystemPrompt
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.ChatMaxTokens
	}
	temperature := s.cfg.ChatTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := s.adapter.Complete(r.Context(), brain.Request{
		Messages:    msgs,
		System:      system,
		Model:       strings.TrimSpace(req.Model),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		s.countRelay("chat", "error")
		s.respondUpstreamError(w, "openai", err)
		return
	}

	text := turn.TruncateToMaxWords(resp.Text, s.cfg.MaxResponseWords)
	s.countRelay("chat", "ok")

	out := chatResponse{Response: text}
	if resp.Usage.TotalTokens > 0 {
		usage := resp.Usage
		out.Usage = &usage
	}
	respondJSON(w, http.StatusOK, out)
}

type conversationRequest struct {
	Messages  []chatMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	UseAvatar bool          `json:"useAvatar,omitempty"`
}

type conversationResponse struct {
	Response  string `json:"response"`
	TaskID    string `json:"taskId,omitempty"`
	UseAvatar bool   `json:"useAvatar"`
}

// handleConversation runs one stateful turn: the last user message drives the
// orchestrator, which appends both sides to the transcript, then the
// coordinator presents the reply.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "messages must be a non-empty array")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if strings.TrimSpace(last.Role) != string(history.RoleUser) {
		respondError(w, http.StatusBadRequest, "invalid_request", "last message must have role user")
		return
	}

	s.emit(protocol.Event{Type: protocol.TypeTurnStarted})
	reply, err := s.orchestrator.SubmitWithSystem(r.Context(), last.Content, req.System)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrEmptyInput):
			respondError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		case errors.Is(err, turn.ErrBusy):
			respondError(w, http.StatusConflict, "busy", "A turn is already in progress")
		default:
			s.countRelay("conversation", "error")
			s.respondUpstreamError(w, "history", err)
		}
		return
	}
	s.countRelay("conversation", "ok")

	sessionID := req.SessionID
	if !req.UseAvatar {
		// The caller opted out of the avatar; speech still plays locally.
		sessionID = ""
	}
	var taskID string
	var usedAvatar bool
	if s.coordinator != nil {
		taskID, usedAvatar = s.coordinator.Present(r.Context(), sessionID, reply.Content)
	}
	s.emit(protocol.Event{Type: protocol.TypeTurnCompleted, TaskID: taskID})

	respondJSON(w, http.StatusOK, conversationResponse{
		Response:  reply.Content,
		TaskID:    taskID,
		UseAvatar: usedAvatar,
	})
}

package httpapi

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tbellini/gizmo/internal/eleven"
)

type ttsRequest struct {
	Text          string                `json:"text"`
	VoiceID       string                `json:"voiceId,omitempty"`
	ModelID       string                `json:"modelId,omitempty"`
	VoiceSettings *eleven.VoiceSettings `json:"voiceSettings,omitempty"`
}

// handleTTS relays synthesized audio chunk for chunk so playback can begin
// before synthesis finishes.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTTSRequest(w, r)
	if !ok {
		return
	}

	body, contentType, err := s.voice.Stream(r.Context(), eleven.SpeechRequest{
		Text:          req.Text,
		VoiceID:       req.VoiceID,
		ModelID:       req.ModelID,
		VoiceSettings: req.VoiceSettings,
	})
	if err != nil {
		s.countRelay("tts", "error")
		s.respondUpstreamError(w, "elevenlabs", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away mid-stream; nothing to send them.
				log.Printf("httpapi: tts relay write aborted: %v", writeErr)
				s.countRelay("tts", "aborted")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Printf("httpapi: tts upstream read failed mid-stream: %v", readErr)
			s.countRelay("tts", "aborted")
			return
		}
	}
	s.countRelay("tts", "ok")
}

// handleTTSWithTimestamps returns base64 audio plus the vendor's character
// alignment payload in one JSON body.
func (s *Server) handleTTSWithTimestamps(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTTSRequest(w, r)
	if !ok {
		return
	}

	out, err := s.voice.SpeakWithTimestamps(r.Context(), eleven.SpeechRequest{
		Text:          req.Text,
		VoiceID:       req.VoiceID,
		ModelID:       req.ModelID,
		VoiceSettings: req.VoiceSettings,
	})
	if err != nil {
		s.countRelay("tts_timestamps", "error")
		s.respondUpstreamError(w, "elevenlabs", err)
		return
	}
	s.countRelay("tts_timestamps", "ok")
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) decodeTTSRequest(w http.ResponseWriter, r *http.Request) (ttsRequest, bool) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return ttsRequest{}, false
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text must not be empty")
		return ttsRequest{}, false
	}
	return req, true
}

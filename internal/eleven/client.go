package eleven

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError carries the vendor's status so the gateway can relay it verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	APIKey         string
	BaseURL        string
	DefaultVoiceID string
	DefaultModelID string
	OutputFormat   string
}

// Client talks to the ElevenLabs REST API with injected credentials.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.DefaultModelID) == "" {
		cfg.DefaultModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// VoiceSettings mirrors the vendor's optional synthesis knobs.
type VoiceSettings struct {
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

type SpeechRequest struct {
	Text          string
	VoiceID       string
	ModelID       string
	VoiceSettings *VoiceSettings
}

// Stream requests synthesized audio and returns the vendor's byte stream for
// chunk-for-chunk relaying. The caller owns closing the reader.
func (c *Client) Stream(ctx context.Context, req SpeechRequest) (io.ReadCloser, string, error) {
	voiceID := c.voiceID(req.VoiceID)
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(voiceID), url.QueryEscape(c.cfg.OutputFormat))

	res, err := c.post(ctx, endpoint, c.speechBody(req))
	if err != nil {
		return nil, "", err
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return res.Body, contentType, nil
}

// TimestampedSpeech is the vendor's audio plus character alignment payload.
type TimestampedSpeech struct {
	AudioBase64 string          `json:"audio_base64"`
	Alignment   json.RawMessage `json:"alignment"`
}

func (c *Client) SpeakWithTimestamps(ctx context.Context, req SpeechRequest) (TimestampedSpeech, error) {
	voiceID := c.voiceID(req.VoiceID)
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(voiceID))

	res, err := c.post(ctx, endpoint, c.speechBody(req))
	if err != nil {
		return TimestampedSpeech{}, err
	}
	defer res.Body.Close()

	var out TimestampedSpeech
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return TimestampedSpeech{}, fmt.Errorf("decode timestamped speech: %w", err)
	}
	return out, nil
}

func (c *Client) speechBody(req SpeechRequest) map[string]any {
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = c.cfg.DefaultModelID
	}
	body := map[string]any{
		"text":     req.Text,
		"model_id": modelID,
	}
	if req.VoiceSettings != nil {
		body["voice_settings"] = req.VoiceSettings
	}
	return body
}

func (c *Client) voiceID(voiceID string) string {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoiceID
	}
	return voiceID
}

func (c *Client) post(ctx context.Context, endpoint string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := readErrorMessage(res.Body)
		res.Body.Close()
		return nil, &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	return res, nil
}

// readErrorMessage makes a best-effort extraction of the vendor's error text.
func readErrorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range []string{"detail", "message", "error"} {
			switch v := obj[k].(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v)
				}
			case map[string]any:
				if s, ok := v["message"].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = "upstream error"
	}
	return text
}

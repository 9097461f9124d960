package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError carries the vendor's status so the gateway can relay it verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("heygen status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	APIKey         string
	BaseURL        string
	DefaultAvatar  string
	DefaultQuality string
}

// Client talks to the HeyGen streaming-avatar REST API.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.heygen.com"
	}
	if strings.TrimSpace(cfg.DefaultQuality) == "" {
		cfg.DefaultQuality = "medium"
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// StreamingSession is the vendor handle the browser needs to attach to the
// avatar's media stream.
type StreamingSession struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	URL         string `json:"url"`
}

func (c *Client) CreateSession(ctx context.Context, avatarID, quality string) (StreamingSession, error) {
	if strings.TrimSpace(avatarID) == "" {
		avatarID = c.cfg.DefaultAvatar
	}
	if strings.TrimSpace(quality) == "" {
		quality = c.cfg.DefaultQuality
	}

	var data StreamingSession
	err := c.call(ctx, http.MethodPost, "/v1/streaming.new", map[string]any{
		"avatar_name": avatarID,
		"quality":     quality,
	}, &data)
	if err != nil {
		return StreamingSession{}, err
	}
	if data.SessionID == "" {
		return StreamingSession{}, fmt.Errorf("heygen returned no session_id")
	}
	return data, nil
}

// Speak submits a speak task for an open streaming session and returns the
// vendor task id.
func (c *Client) Speak(ctx context.Context, sessionID, text, taskType string) (string, error) {
	if strings.TrimSpace(taskType) == "" {
		taskType = "repeat"
	}
	var data struct {
		TaskID string `json:"task_id"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/streaming.task", map[string]any{
		"session_id": sessionID,
		"text":       text,
		"task_type":  taskType,
	}, &data)
	if err != nil {
		return "", err
	}
	return data.TaskID, nil
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodPost, "/v1/streaming.stop", map[string]any{
		"session_id": sessionID,
	}, nil)
}

type AvatarInfo struct {
	AvatarID   string `json:"avatar_id"`
	AvatarName string `json:"avatar_name"`
	Gender     string `json:"gender,omitempty"`
	PreviewURL string `json:"preview_image_url,omitempty"`
}

func (c *Client) ListAvatars(ctx context.Context) ([]AvatarInfo, error) {
	var data struct {
		Avatars []AvatarInfo `json:"avatars"`
	}
	if err := c.call(ctx, http.MethodGet, "/v2/avatars", nil, &data); err != nil {
		return nil, err
	}
	return data.Avatars, nil
}

// call performs one vendor request and unwraps HeyGen's {code, message, data}
// envelope into out.
func (c *Client) call(ctx context.Context, method, path string, body map[string]any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Message: extractMessage(raw)}
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	payload := envelope.Data
	if len(payload) == 0 {
		payload = raw
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func extractMessage(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = "upstream error"
	}
	return text
}

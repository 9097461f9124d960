package brain

import (
	"context"

	"github.com/tbellini/gizmo/internal/history"
)

// Usage mirrors the vendor's token accounting for the relay response.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Request carries one windowed conversation to the chat vendor.
type Request struct {
	Messages    []history.Message
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the vendor reply text plus usage.
type Response struct {
	Text  string
	Usage Usage
}

// Adapter relays a conversation turn to a chat-completion vendor.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

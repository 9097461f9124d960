package brain

import (
	"context"
	"strings"
)

// MockAdapter is a deterministic adapter for tests and keyless local runs.
type MockAdapter struct {
	CompleteFn func(ctx context.Context, req Request) (Response, error)
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	if a.CompleteFn != nil {
		return a.CompleteFn(ctx, req)
	}
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return Response{
		Text:  "You said: " + strings.TrimSpace(last),
		Usage: Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

package history

import (
	"context"
	"time"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry. Immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the ordered conversation transcript. Implementations keep at
// most the configured maximum number of messages, evicting the oldest first.
type Store interface {
	Append(ctx context.Context, msg Message) error
	Messages(ctx context.Context) ([]Message, error)
	Clear(ctx context.Context) error
	Close() error
}

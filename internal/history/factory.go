package history

import (
	"context"
	"strings"
)

// NewStore picks the transcript backend: postgres when DATABASE_URL is set,
// otherwise a JSON file when a path is configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, filePath string, maxMessages int) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL, maxMessages)
	}
	if strings.TrimSpace(filePath) != "" {
		return NewFileStore(filePath, maxMessages)
	}
	return NewInMemoryStore(maxMessages), nil
}

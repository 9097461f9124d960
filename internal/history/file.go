package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps the transcript as a JSON array in a single file, the
// server-side counterpart of the browser's fixed local-storage key. The file
// is rewritten after every mutation so a restart replays the transcript.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	max      int
	messages []Message
}

func NewFileStore(path string, maxMessages int) (*FileStore, error) {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	s := &FileStore{path: path, max: maxMessages}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read transcript: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}
	if len(messages) > s.max {
		messages = messages[len(messages)-s.max:]
	}
	s.messages = messages
	return nil
}

func (s *FileStore) Append(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	if len(s.messages) > s.max {
		s.messages = s.messages[len(s.messages)-s.max:]
	}
	return s.persist()
}

func (s *FileStore) Messages(_ context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return s.persist()
}

func (s *FileStore) Close() error { return nil }

// persist writes the whole transcript through a temp file and rename so a
// crash mid-write never leaves a truncated transcript behind.
func (s *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	payload := s.messages
	if payload == nil {
		payload = []Message{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

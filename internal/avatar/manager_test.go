package avatar

import (
	"errors"
	"testing"
	"time"
)

func TestManagerTrackGetClose(t *testing.T) {
	m := NewManager(time.Minute)

	s := m.Track("sess-1", "ava", "medium")
	if s.Status != StatusActive {
		t.Fatalf("status = %q, want %q", s.Status, StatusActive)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	got, err := m.Get("sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AvatarID != "ava" {
		t.Fatalf("avatar = %q, want %q", got.AvatarID, "ava")
	}

	closed, err := m.Close("sess-1")
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if closed.Status != StatusClosed {
		t.Fatalf("closed status = %q, want %q", closed.Status, StatusClosed)
	}
	if _, err := m.Get("sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after close error = %v, want ErrNotFound", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if err := m.Touch("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() error = %v, want ErrNotFound", err)
	}
	if _, err := m.Close("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Close() error = %v, want ErrNotFound", err)
	}
}

func TestManagerExpireHookReclaimsIdleSessions(t *testing.T) {
	m := NewManager(5 * time.Second)
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	m.Track("sess-1", "ava", "medium")
	m.mu.Lock()
	m.sessions["sess-1"].LastActivityAt = time.Now().UTC().Add(-time.Minute)
	m.mu.Unlock()

	m.expireInactive()

	select {
	case id := <-expired:
		if id != "sess-1" {
			t.Fatalf("expired session = %q, want sess-1", id)
		}
	default:
		t.Fatalf("expire hook not invoked")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after expiry", m.ActiveCount())
	}
}

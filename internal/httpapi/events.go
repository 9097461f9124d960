package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbellini/gizmo/internal/avatar"
	"github.com/tbellini/gizmo/internal/protocol"
)

const (
	eventsWriteWait    = 10 * time.Second
	eventsPongWait     = 120 * time.Second
	eventsPingInterval = 30 * time.Second
)

// handleEvents streams character lifecycle events to the browser and accepts
// control frames back. One connection at a time receives events; a newer
// connection takes over the coordinator's handlers, and a stale connection's
// teardown must not disturb the takeover.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan protocol.Event, 64)
	push := func(ev protocol.Event) {
		ev.TSMs = time.Now().UnixMilli()
		select {
		case outbound <- ev:
		default:
			// Keep websocket writes single-threaded; drop if the queue is full.
		}
	}

	gen := s.claimEvents(push)

	s.coordinator.OnState(func(st avatar.State) {
		push(protocol.Event{Type: protocol.TypeStateChanged, State: string(st)})
	})
	s.coordinator.OnSpeakingStart(func(source string) {
		push(protocol.Event{Type: protocol.TypeSpeakingStart, Source: source})
	})
	s.coordinator.OnSpeakingEnd(func() {
		push(protocol.Event{Type: protocol.TypeSpeakingEnd})
	})
	s.coordinator.OnIdleResume(func() {
		push(protocol.Event{Type: protocol.TypeIdleResumed})
	})
	s.coordinator.OnError(func(err error) {
		push(protocol.Event{Type: protocol.TypeErrorEvent, Detail: err.Error()})
	})
	defer func() {
		// Only the listener that still owns the handlers clears them; a
		// connection that was taken over leaves the newer one's wiring alone.
		if !s.releaseEvents(gen) {
			return
		}
		s.coordinator.OnState(nil)
		s.coordinator.OnSpeakingStart(nil)
		s.coordinator.OnSpeakingEnd(nil)
		s.coordinator.OnIdleResume(nil)
		s.coordinator.OnError(nil)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseClientControl(data)
		if err != nil {
			push(protocol.Event{Type: protocol.TypeErrorEvent, Detail: err.Error()})
			continue
		}
		switch msg.Action {
		case protocol.ActionStop:
			s.coordinator.Stop()
		case protocol.ActionAvatarEvent:
			s.coordinator.HandleRemoteEvent(msg.Name)
		}
	}

	cancel()
	<-writerDone
}

// claimEvents registers push as the active event sink and returns the claim's
// generation.
func (s *Server) claimEvents(push func(protocol.Event)) uint64 {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.eventsSeq++
	s.eventsPush = push
	return s.eventsSeq
}

// releaseEvents drops the sink only when gen is still the active claim.
func (s *Server) releaseEvents(gen uint64) bool {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsSeq != gen {
		return false
	}
	s.eventsPush = nil
	return true
}

// eventsSeqNow returns the current claim generation.
func (s *Server) eventsSeqNow() uint64 {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return s.eventsSeq
}

// eventsActive reports whether a listener currently owns the event sink.
func (s *Server) eventsActive() int {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsPush != nil {
		return 1
	}
	return 0
}

// emit forwards an event to the active listener, if any.
func (s *Server) emit(ev protocol.Event) {
	s.eventsMu.Lock()
	push := s.eventsPush
	s.eventsMu.Unlock()
	if push != nil {
		push(ev)
	}
}

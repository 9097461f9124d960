package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/protocol"
)

func dialEvents(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events socket: %v", err)
	}
	return conn
}

// waitForListener blocks until the most recent connection has claimed the
// event sink and had a moment to finish installing its handlers.
func waitForListener(t *testing.T, srv *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.eventsActive() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("events listener never claimed the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestEventsSocketStreamsLifecycleEvents(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialEvents(t, ts)
	defer conn.Close()
	waitForListener(t, srv)

	srv.coordinator.HandleRemoteEvent("speaking_start")

	ev := readEvent(t, conn)
	if ev.Type != protocol.TypeStateChanged || ev.State != "talking" {
		t.Fatalf("first event = %+v, want state_changed/talking", ev)
	}
	ev = readEvent(t, conn)
	if ev.Type != protocol.TypeSpeakingStart {
		t.Fatalf("second event = %+v, want speaking_start", ev)
	}
}

func TestEventsSocketNewerConnectionSurvivesStaleTeardown(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	connA := dialEvents(t, ts)
	waitForListener(t, srv)
	connB := dialEvents(t, ts)
	deadline := time.Now().Add(2 * time.Second)
	for srv.eventsSeqNow() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second listener never claimed the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	defer connB.Close()

	// Closing the older listener must not tear down the newer one's wiring.
	connA.Close()
	time.Sleep(100 * time.Millisecond)
	if got := srv.eventsActive(); got != 1 {
		t.Fatalf("active event sinks = %d after stale teardown, want 1", got)
	}

	srv.coordinator.HandleRemoteEvent("speaking_start")

	ev := readEvent(t, connB)
	if ev.Type != protocol.TypeStateChanged || ev.State != "talking" {
		t.Fatalf("event after takeover = %+v, want state_changed/talking", ev)
	}
}

func TestEventsSocketSendsPingsToIdleListeners(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	srv.pingInterval = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialEvents(t, ts)
	defer conn.Close()

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ping received on an idle events connection")
	}
}

func TestEventsSocketControlFramesDriveCoordinator(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialEvents(t, ts)
	defer conn.Close()

	frame := `{"type":"client_control","action":"avatar_event","name":"speaking_start"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write control frame: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != protocol.TypeStateChanged || ev.State != "talking" {
		t.Fatalf("event = %+v, want state_changed/talking from relayed avatar signal", ev)
	}
}

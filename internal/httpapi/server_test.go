package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbellini/gizmo/internal/avatar"
	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/config"
	"github.com/tbellini/gizmo/internal/eleven"
	"github.com/tbellini/gizmo/internal/history"
	"github.com/tbellini/gizmo/internal/protocol"
	"github.com/tbellini/gizmo/internal/speech"
	"github.com/tbellini/gizmo/internal/turn"
)

func testConfig() config.Config {
	return config.Config{
		RateLimitPerMinute: 100,
		HistoryMaxMessages: 50,
		HistoryWindow:      12,
		MaxResponseWords:   60,
		AllowedOrigins:     []string{"http://localhost:3000"},
	}
}

func newTestServer(t *testing.T, cfg config.Config, adapter brain.Adapter) (*Server, history.Store) {
	t.Helper()
	store := history.NewInMemoryStore(cfg.HistoryMaxMessages)
	orchestrator := turn.NewOrchestrator(store, adapter, nil, turn.Options{
		MaxWords:      cfg.MaxResponseWords,
		HistoryWindow: cfg.HistoryWindow,
	})
	sessions := avatar.NewManager(time.Minute)
	selector := speech.NewSelector(nil, speech.NewMockProducer("local"))
	coordinator := avatar.NewCoordinator(nil, sessions, selector, time.Millisecond)
	voice := eleven.NewClient(eleven.Config{APIKey: "test", DefaultVoiceID: "voice"})
	avatars := avatar.NewClient(avatar.Config{APIKey: "test"})
	return New(cfg, nil, store, adapter, orchestrator, selector, coordinator, avatars, sessions, voice), store
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthShape(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	rr := doJSON(t, srv.Router(), http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"]); err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", body["timestamp"], err)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	router := srv.Router()

	for _, body := range []string{``, `{}`, `{"messages":[]}`} {
		rr := doJSON(t, router, http.MethodPost, "/api/chat", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rr.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if resp.Code != "invalid_request" {
			t.Fatalf("error code = %q, want invalid_request", resp.Code)
		}
	}
}

func TestChatRejectsUnknownRole(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", `{"messages":[{"role":"system","content":"hi"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestChatRelaysAdapterReply(t *testing.T) {
	srv, store := newTestServer(t, testConfig(), brain.NewMockAdapter())
	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hello"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Response != "You said: hello" {
		t.Fatalf("response = %q", resp.Response)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 2 {
		t.Fatalf("usage = %+v, want total 2", resp.Usage)
	}

	// The stateless relay must not touch the transcript.
	msgs, err := store.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("history has %d messages after /api/chat, want 0", len(msgs))
	}
}

func TestChatCapsReplyLength(t *testing.T) {
	adapter := &brain.MockAdapter{
		CompleteFn: func(context.Context, brain.Request) (brain.Response, error) {
			return brain.Response{Text: strings.Repeat("word ", 200)}, nil
		},
	}
	cfg := testConfig()
	cfg.MaxResponseWords = 10
	srv, _ := newTestServer(t, cfg, adapter)

	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"go long"}]}`)
	var resp chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := len(strings.Fields(resp.Response)); got != 10 {
		t.Fatalf("reply has %d words, want 10", got)
	}
	if !strings.HasSuffix(resp.Response, "...") {
		t.Fatalf("capped reply %q missing ellipsis", resp.Response)
	}
}

func TestConversationAppendsBothSides(t *testing.T) {
	srv, store := newTestServer(t, testConfig(), brain.NewMockAdapter())
	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/conversation", `{"messages":[{"role":"user","content":"hi there"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp conversationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Response != "You said: hi there" {
		t.Fatalf("response = %q", resp.Response)
	}
	if resp.UseAvatar {
		t.Fatalf("useAvatar = true without a streaming session")
	}

	msgs, err := store.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != history.RoleUser || msgs[1].Role != history.RoleAssistant {
		t.Fatalf("roles = %q,%q, want user,assistant", msgs[0].Role, msgs[1].Role)
	}
}

func TestConversationThreadsSystemOverride(t *testing.T) {
	var seen string
	adapter := &brain.MockAdapter{
		CompleteFn: func(_ context.Context, req brain.Request) (brain.Response, error) {
			seen = req.System
			return brain.Response{Text: "aye"}, nil
		},
	}
	srv, _ := newTestServer(t, testConfig(), adapter)

	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/conversation",
		`{"messages":[{"role":"user","content":"hi"}],"system":"You are a pirate."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(seen, "You are a pirate.") {
		t.Fatalf("adapter system = %q, want the per-request override", seen)
	}
}

func TestConversationEmitsTurnEvents(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())

	events := make(chan protocol.Event, 8)
	srv.claimEvents(func(ev protocol.Event) { events <- ev })

	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/conversation", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	want := []protocol.EventType{protocol.TypeTurnStarted, protocol.TypeTurnCompleted}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.Type != w {
				t.Fatalf("event type = %q, want %q", ev.Type, w)
			}
		default:
			t.Fatalf("missing %q event", w)
		}
	}
}

func TestConversationRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	router := srv.Router()

	cases := []struct {
		name string
		body string
	}{
		{"empty messages", `{"messages":[]}`},
		{"blank user text", `{"messages":[{"role":"user","content":"   "}]}`},
		{"last message not from user", `{"messages":[{"role":"assistant","content":"hi"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, router, http.MethodPost, "/api/conversation", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestConversationRejectsConcurrentTurn(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	adapter := &brain.MockAdapter{
		CompleteFn: func(context.Context, brain.Request) (brain.Response, error) {
			close(entered)
			<-block
			return brain.Response{Text: "done"}, nil
		},
	}
	srv, _ := newTestServer(t, testConfig(), adapter)
	router := srv.Router()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		doJSON(t, router, http.MethodPost, "/api/conversation", `{"messages":[{"role":"user","content":"first"}]}`)
	}()
	<-entered

	rr := doJSON(t, router, http.MethodPost, "/api/conversation", `{"messages":[{"role":"user","content":"second"}]}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("concurrent turn status = %d, want 409", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "busy" {
		t.Fatalf("error code = %q, want busy", resp.Code)
	}

	close(block)
	<-firstDone
}

func TestRateLimitReturnsUniformThrottleBody(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 3
	srv, _ := newTestServer(t, cfg, brain.NewMockAdapter())
	router := srv.Router()

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = doJSON(t, router, http.MethodGet, "/api/history", "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request status = %d, want 429", last.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(last.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode throttle body: %v", err)
	}
	if resp.Code != "rate_limited" {
		t.Fatalf("throttle code = %q, want rate_limited", resp.Code)
	}
	if resp.Error != "Too many requests, please slow down" {
		t.Fatalf("throttle message = %q", resp.Error)
	}
}

func TestHistoryEndpointListsAndClears(t *testing.T) {
	srv, store := newTestServer(t, testConfig(), brain.NewMockAdapter())
	router := srv.Router()

	if err := store.Append(context.Background(), history.Message{Role: history.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rr := doJSON(t, router, http.MethodGet, "/api/history", "")
	var listing struct {
		Messages []history.Message `json:"messages"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 || len(listing.Messages) != 1 {
		t.Fatalf("listing = %+v, want one message", listing)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/history/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", rr.Code)
	}
	msgs, _ := store.Messages(context.Background())
	if len(msgs) != 0 {
		t.Fatalf("history has %d messages after clear, want 0", len(msgs))
	}
}

func TestTTSRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	for _, target := range []string{"/api/tts/elevenlabs", "/api/tts/elevenlabs-with-timestamps"} {
		rr := doJSON(t, srv.Router(), http.MethodPost, target, `{"text":"  "}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", target, rr.Code)
		}
	}
}

func TestTTSRelaysUpstreamAudio(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "test" {
			t.Errorf("xi-api-key = %q, want test", got)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("fake-audio-bytes"))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	srv.voice = eleven.NewClient(eleven.Config{APIKey: "test", BaseURL: upstream.URL, DefaultVoiceID: "voice"})

	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/tts/elevenlabs", `{"text":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("content type = %q, want audio/mpeg", got)
	}
	if rr.Body.String() != "fake-audio-bytes" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestTTSRelaysVendorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	srv.voice = eleven.NewClient(eleven.Config{APIKey: "bad", BaseURL: upstream.URL, DefaultVoiceID: "voice"})

	rr := doJSON(t, srv.Router(), http.MethodPost, "/api/tts/elevenlabs", `{"text":"hello"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 relayed from vendor", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error != "invalid api key" {
		t.Fatalf("error message = %q, want vendor detail", resp.Error)
	}
}

func TestAvatarSessionLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/streaming.new":
			respondJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"session_id": "sess-1", "access_token": "tok", "url": "wss://example",
			}})
		case "/v1/streaming.task":
			respondJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"task_id": "task-1"}})
		case "/v1/streaming.stop":
			respondJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, testConfig(), brain.NewMockAdapter())
	srv.avatars = avatar.NewClient(avatar.Config{APIKey: "test", BaseURL: upstream.URL, DefaultAvatar: "ava"})
	router := srv.Router()

	rr := doJSON(t, router, http.MethodPost, "/api/heygen/create-session", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var sess avatar.StreamingSession
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.SessionID != "sess-1" || sess.AccessToken != "tok" {
		t.Fatalf("session = %+v", sess)
	}
	if srv.sessions.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", srv.sessions.ActiveCount())
	}

	rr = doJSON(t, router, http.MethodPost, "/api/heygen/speak", `{"sessionId":"sess-1","text":"hello"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("speak status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var task struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode speak body: %v", err)
	}
	if task.TaskID != "task-1" {
		t.Fatalf("task_id = %q, want task-1 (vendor key relayed verbatim)", task.TaskID)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/heygen/close-session", `{"sessionId":"sess-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if srv.sessions.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d after close, want 0", srv.sessions.ActiveCount())
	}
}

func TestOriginAllowedSuffixes(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOriginSuffixes = []string{".vercel.app"}
	srv, _ := newTestServer(t, cfg, brain.NewMockAdapter())

	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://demo.vercel.app", true},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := srv.originAllowed(tc.origin); got != tc.want {
			t.Fatalf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

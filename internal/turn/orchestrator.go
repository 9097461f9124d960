package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/history"
	"github.com/tbellini/gizmo/internal/observability"
)

// ErrBusy is returned when a submit arrives while another turn is processing.
// Concurrent turns are rejected, never queued.
var ErrBusy = errors.New("a turn is already processing")

// ErrEmptyInput is returned when the submitted user text is blank.
var ErrEmptyInput = errors.New("user text is empty")

// fallbackLines are substituted, in character, when the chat relay fails.
// The turn still completes as a soft success.
var fallbackLines = []string{
	"Whoops, my brain did a little somersault there. Say that again?",
	"Hmm, I lost my train of thought mid-loop. One more time?",
	"My circuits got the hiccups! What were we talking about?",
	"I blinked and the words fell out of my head. Try me again!",
	"Oof, static between my ears just now. Mind repeating that?",
}

type Options struct {
	System        string
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxWords      int
	HistoryWindow int
}

// Orchestrator sequences one user-message-to-assistant-reply cycle: append the
// user message, relay the windowed history, cap the reply, append and persist.
// At most one turn may be processing at any time.
type Orchestrator struct {
	store   history.Store
	adapter brain.Adapter
	metrics *observability.Metrics
	opts    Options

	busy atomic.Bool
}

func NewOrchestrator(store history.Store, adapter brain.Adapter, metrics *observability.Metrics, opts Options) *Orchestrator {
	if opts.MaxWords <= 0 {
		opts.MaxWords = 60
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 12
	}
	return &Orchestrator{
		store:   store,
		adapter: adapter,
		metrics: metrics,
		opts:    opts,
	}
}

// Busy reports whether a turn is currently processing.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Submit runs one turn with the configured system prompt.
func (o *Orchestrator) Submit(ctx context.Context, userText string) (history.Message, error) {
	return o.SubmitWithSystem(ctx, userText, "")
}

// SubmitWithSystem runs one turn and returns the assistant message; a
// non-empty system replaces the configured prompt for this turn only. A second
// submit issued while the first is unresolved fails immediately with ErrBusy
// and leaves history untouched. Relay failures are masked behind a fallback
// line; only history bookkeeping errors surface as hard failures.
func (o *Orchestrator) SubmitWithSystem(ctx context.Context, userText, system string) (history.Message, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return history.Message{}, ErrEmptyInput
	}
	if !o.busy.CompareAndSwap(false, true) {
		o.observeOutcome("busy")
		return history.Message{}, ErrBusy
	}
	defer o.busy.Store(false)

	started := time.Now()

	userMsg := history.Message{Role: history.RoleUser, Content: userText, CreatedAt: time.Now().UTC()}
	if err := o.store.Append(ctx, userMsg); err != nil {
		o.observeOutcome("error")
		return history.Message{}, fmt.Errorf("append user message: %w", err)
	}

	outcome := "ok"
	reply, err := o.complete(ctx, system)
	if err != nil {
		// Mask relay failures as a soft success with an in-character line.
		log.Printf("chat relay failed, substituting fallback line: %v", err)
		reply = fallbackLines[rand.Intn(len(fallbackLines))]
		outcome = "fallback"
	}
	reply = TruncateToMaxWords(reply, o.opts.MaxWords)

	assistantMsg := history.Message{Role: history.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC()}
	if err := o.store.Append(ctx, assistantMsg); err != nil {
		o.observeOutcome("error")
		return history.Message{}, fmt.Errorf("append assistant message: %w", err)
	}

	o.observeOutcome(outcome)
	if o.metrics != nil {
		o.metrics.TurnLatency.Observe(float64(time.Since(started).Milliseconds()))
	}
	return assistantMsg, nil
}

func (o *Orchestrator) complete(ctx context.Context, system string) (string, error) {
	messages, err := o.store.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(messages) > o.opts.HistoryWindow {
		messages = messages[len(messages)-o.opts.HistoryWindow:]
	}

	resp, err := o.adapter.Complete(ctx, brain.Request{
		Messages:    messages,
		System:      o.systemPrompt(system),
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("empty relay response")
	}
	return text, nil
}

// systemPrompt asks the upstream model to honor the word cap; local truncation
// remains the backstop. A non-empty override wins over the configured prompt.
func (o *Orchestrator) systemPrompt(override string) string {
	capLine := fmt.Sprintf("Keep every reply under %d words.", o.opts.MaxWords)
	system := strings.TrimSpace(override)
	if system == "" {
		system = strings.TrimSpace(o.opts.System)
	}
	if system == "" {
		return capLine
	}
	return system + " " + capLine
}

func (o *Orchestrator) observeOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.TurnOutcomes.WithLabelValues(outcome).Inc()
	}
}

// FallbackLines exposes the fixed fallback set for tests.
func FallbackLines() []string {
	out := make([]string, len(fallbackLines))
	copy(out, fallbackLines)
	return out
}

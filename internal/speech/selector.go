package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tbellini/gizmo/internal/observability"
)

// ErrNothingToSpeak is returned when cleaning leaves no speakable text.
var ErrNothingToSpeak = errors.New("nothing to speak after cleaning")

// Selector dispatches an utterance to one of the configured speech producers
// with ordered fallback: the first producer in the chain is the primary; on
// failure, and only when the primary is not already the local tail of the
// chain, the tail is retried once. Never more than two producers run per call.
type Selector struct {
	chain   []Producer
	metrics *observability.Metrics

	mu     sync.Mutex
	active *utterance
}

type utterance struct {
	cancel       context.CancelFunc
	cb           Callbacks
	startedFired bool
	finished     bool
}

func NewSelector(metrics *observability.Metrics, chain ...Producer) *Selector {
	return &Selector{chain: chain, metrics: metrics}
}

// Speak cleans text and drives it through the producer chain, blocking until
// the utterance ends one way or the other. Any previous utterance is stopped
// first.
func (s *Selector) Speak(ctx context.Context, text string, cb Callbacks) error {
	cleaned := CleanUtterance(text)
	if cleaned == "" {
		return ErrNothingToSpeak
	}
	if len(s.chain) == 0 {
		return errors.New("no speech producers configured")
	}

	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u := &utterance{cancel: cancel, cb: cb}
	s.mu.Lock()
	s.active = u
	s.mu.Unlock()

	var primaryErr error
	for i, p := range s.attempts() {
		if i > 0 && s.metrics != nil {
			s.metrics.SpeechFallbacks.WithLabelValues(p.Name()).Inc()
		}
		name := p.Name()
		err := p.Speak(ctx, cleaned, func() { s.fireStart(u, name) })
		if err == nil {
			s.finish(u)
			return nil
		}
		if ctx.Err() != nil {
			// Stopped mid-utterance; Stop already closed the session.
			return nil
		}
		if primaryErr == nil {
			primaryErr = err
		} else {
			primaryErr = fmt.Errorf("primary producer failed: %v; local producer failed: %w", primaryErr, err)
		}
	}

	s.fail(u, primaryErr)
	return primaryErr
}

// Stop cancels any in-flight utterance and fires OnEnd if one was active.
// Calling it again is a no-op.
func (s *Selector) Stop() {
	s.mu.Lock()
	u := s.active
	s.active = nil
	s.mu.Unlock()
	if u == nil {
		return
	}
	u.cancel()

	s.mu.Lock()
	finished := u.finished
	u.finished = true
	cb := u.cb
	s.mu.Unlock()
	if !finished && cb.OnEnd != nil {
		cb.OnEnd()
	}
}

// attempts returns the producers tried for one call: the primary, then the
// local tail when it differs. Fallback ordering is the chain order.
func (s *Selector) attempts() []Producer {
	primary := s.chain[0]
	tail := s.chain[len(s.chain)-1]
	if tail == primary {
		return []Producer{primary}
	}
	return []Producer{primary, tail}
}

func (s *Selector) fireStart(u *utterance, producer string) {
	s.mu.Lock()
	fire := !u.startedFired && !u.finished
	u.startedFired = true
	cb := u.cb
	s.mu.Unlock()
	if fire && cb.OnStart != nil {
		cb.OnStart(producer)
	}
}

func (s *Selector) finish(u *utterance) {
	s.mu.Lock()
	fire := !u.finished
	u.finished = true
	if s.active == u {
		s.active = nil
	}
	cb := u.cb
	s.mu.Unlock()
	if fire && cb.OnEnd != nil {
		cb.OnEnd()
	}
}

func (s *Selector) fail(u *utterance, err error) {
	s.mu.Lock()
	fire := !u.finished
	u.finished = true
	if s.active == u {
		s.active = nil
	}
	cb := u.cb
	s.mu.Unlock()
	if fire && cb.OnError != nil {
		cb.OnError(err)
	}
}

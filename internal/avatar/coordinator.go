package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/tbellini/gizmo/internal/speech"
)

// State is the character's presentation state.
type State string

const (
	StateIdle    State = "idle"
	StateTalking State = "talking"
)

const (
	driverNone   = ""
	driverRemote = "remote"
	driverLocal  = "local"
)

// SpeakClient is the slice of the vendor client the coordinator needs.
type SpeakClient interface {
	Speak(ctx context.Context, sessionID, text, taskType string) (string, error)
}

// Coordinator decides whether the remote streaming avatar or the speech
// selector presents a reply, and tracks the idle/talking state around the
// utterance. The two drivers are mutually exclusive per turn: once the remote
// avatar owns a turn, local speech callbacks are ignored, and vice versa.
type Coordinator struct {
	client    SpeakClient
	sessions  *Manager
	selector  *speech.Selector
	idleDelay time.Duration

	mu        sync.Mutex
	state     State
	driver    string
	idleTimer *time.Timer

	onState         func(State)
	onSpeakingStart func(source string)
	onSpeakingEnd   func()
	onIdleResume    func()
	onError         func(err error)
}

func NewCoordinator(client SpeakClient, sessions *Manager, selector *speech.Selector, idleDelay time.Duration) *Coordinator {
	return &Coordinator{
		client:    client,
		sessions:  sessions,
		selector:  selector,
		idleDelay: idleDelay,
		state:     StateIdle,
	}
}

// Single active handler per lifecycle event; installing a new one replaces
// the previous.
func (c *Coordinator) OnState(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = h
}

func (c *Coordinator) OnSpeakingStart(h func(source string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSpeakingStart = h
}

func (c *Coordinator) OnSpeakingEnd(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSpeakingEnd = h
}

func (c *Coordinator) OnIdleResume(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIdleResume = h
}

func (c *Coordinator) OnError(h func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = h
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Present delivers text through the remote avatar when a streaming session is
// open, otherwise through the speech selector. Returns the vendor task id and
// whether the avatar took the turn.
func (c *Coordinator) Present(ctx context.Context, sessionID, text string) (taskID string, usedAvatar bool) {
	if sessionID != "" && c.client != nil && c.sessionOpen(sessionID) {
		taskID, err := c.client.Speak(ctx, sessionID, text, "repeat")
		if err == nil {
			if c.sessions != nil {
				_ = c.sessions.Touch(sessionID)
			}
			c.claimDriver(driverRemote)
			return taskID, true
		}
		c.reportError(err)
		// Avatar speak failed; the selector path takes over below.
	}

	c.claimDriver(driverLocal)
	// Speech runs detached from the request so the reply is not held back by
	// playback; callbacks drive the talking/idle transitions.
	go func() {
		_ = c.selector.Speak(context.Background(), text, speech.Callbacks{
			OnStart: func(producer string) { c.localEvent(func() { c.beginTalking(producer) }) },
			OnEnd:   func() { c.localEvent(c.endTalking) },
			OnError: func(err error) {
				c.reportError(err)
				c.localEvent(c.endTalking)
			},
		})
	}()
	return "", false
}

// HandleRemoteEvent feeds avatar lifecycle signals relayed by the browser.
func (c *Coordinator) HandleRemoteEvent(name string) {
	c.mu.Lock()
	if c.driver == driverLocal {
		c.mu.Unlock()
		return
	}
	c.driver = driverRemote
	c.mu.Unlock()

	switch name {
	case "speaking_start":
		c.beginTalking("avatar")
	case "speaking_end":
		c.endTalking()
	}
}

// Stop cancels local speech playback. An outstanding remote task is not
// cancellable; its end signal still arrives via HandleRemoteEvent.
func (c *Coordinator) Stop() {
	c.selector.Stop()
}

func (c *Coordinator) sessionOpen(sessionID string) bool {
	if c.sessions == nil {
		return true
	}
	_, err := c.sessions.Get(sessionID)
	return err == nil
}

func (c *Coordinator) claimDriver(driver string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.driver = driver
}

// localEvent applies fn only while the local driver owns the turn.
func (c *Coordinator) localEvent(fn func()) {
	c.mu.Lock()
	owned := c.driver == driverLocal
	c.mu.Unlock()
	if owned {
		fn()
	}
}

func (c *Coordinator) beginTalking(source string) {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	changed := c.state != StateTalking
	c.state = StateTalking
	onState := c.onState
	onStart := c.onSpeakingStart
	c.mu.Unlock()

	if changed && onState != nil {
		onState(StateTalking)
	}
	if onStart != nil {
		onStart(source)
	}
}

func (c *Coordinator) endTalking() {
	c.mu.Lock()
	changed := c.state != StateIdle
	c.state = StateIdle
	c.driver = driverNone
	onState := c.onState
	onEnd := c.onSpeakingEnd
	onResume := c.onIdleResume
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	if onResume != nil {
		c.idleTimer = time.AfterFunc(c.idleDelay, onResume)
	}
	c.mu.Unlock()

	if changed && onEnd != nil {
		onEnd()
	}
	if changed && onState != nil {
		onState(StateIdle)
	}
}

func (c *Coordinator) reportError(err error) {
	c.mu.Lock()
	h := c.onError
	c.mu.Unlock()
	if h != nil {
		h(err)
	}
}

package speech

import "context"

// Producer is any backend capable of turning text into audible speech. Speak
// blocks until the utterance finishes or ctx is cancelled; started is invoked
// once, when speech actually begins.
type Producer interface {
	Name() string
	Speak(ctx context.Context, text string, started func()) error
}

// Callbacks are the lifecycle hooks of one utterance. Exactly one of
// OnStart→OnEnd or OnStart→OnError fires per Speak call; OnStart fires at
// most once.
type Callbacks struct {
	OnStart func(producer string)
	OnEnd   func()
	OnError func(err error)
}

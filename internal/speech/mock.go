package speech

import "context"

// MockProducer is a scriptable producer for tests and keyless local runs.
type MockProducer struct {
	ProducerName string
	SpeakFn      func(ctx context.Context, text string, started func()) error

	Calls     int
	LastText  string
	StartFire bool
}

func NewMockProducer(name string) *MockProducer {
	return &MockProducer{ProducerName: name, StartFire: true}
}

func (p *MockProducer) Name() string {
	if p.ProducerName == "" {
		return "mock"
	}
	return p.ProducerName
}

func (p *MockProducer) Speak(ctx context.Context, text string, started func()) error {
	p.Calls++
	p.LastText = text
	if p.SpeakFn != nil {
		return p.SpeakFn(ctx, text, started)
	}
	if p.StartFire && started != nil {
		started()
	}
	return ctx.Err()
}

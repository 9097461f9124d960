package speech

import (
	"context"
	"fmt"
	"io"

	"github.com/tbellini/gizmo/internal/eleven"
)

// ElevenLabsProducer synthesizes speech through the ElevenLabs streaming
// endpoint. The audio bytes are drained into sink; playback lifetime is the
// lifetime of the stream.
type ElevenLabsProducer struct {
	client *eleven.Client
	sink   io.Writer
}

func NewElevenLabsProducer(client *eleven.Client, sink io.Writer) *ElevenLabsProducer {
	if sink == nil {
		sink = io.Discard
	}
	return &ElevenLabsProducer{client: client, sink: sink}
}

func (p *ElevenLabsProducer) Name() string { return "elevenlabs" }

func (p *ElevenLabsProducer) Speak(ctx context.Context, text string, started func()) error {
	stream, _, err := p.client.Stream(ctx, eleven.SpeechRequest{Text: text})
	if err != nil {
		return fmt.Errorf("elevenlabs stream: %w", err)
	}
	defer stream.Close()

	if started != nil {
		started()
	}
	if _, err := io.Copy(p.sink, stream); err != nil {
		return fmt.Errorf("elevenlabs playback: %w", err)
	}
	return nil
}

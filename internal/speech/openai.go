package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProducer synthesizes speech through the OpenAI speech endpoint, the
// alternate vendor voice when ElevenLabs is not configured.
type OpenAIProducer struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
	sink   io.Writer
}

type OpenAIProducerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

func NewOpenAIProducer(cfg OpenAIProducerConfig, sink io.Writer) *OpenAIProducer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	model := openai.SpeechModel(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = openai.TTSModel1
	}
	voice := openai.SpeechVoice(strings.TrimSpace(cfg.Voice))
	if voice == "" {
		voice = openai.VoiceNova
	}
	if sink == nil {
		sink = io.Discard
	}
	return &OpenAIProducer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		voice:  voice,
		sink:   sink,
	}
}

func (p *OpenAIProducer) Name() string { return "openai" }

func (p *OpenAIProducer) Speak(ctx context.Context, text string, started func()) error {
	stream, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: p.model,
		Input: text,
		Voice: p.voice,
	})
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer stream.Close()

	if started != nil {
		started()
	}
	if _, err := io.Copy(p.sink, stream); err != nil {
		return fmt.Errorf("openai playback: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tbellini/gizmo/internal/avatar"
	"github.com/tbellini/gizmo/internal/brain"
	"github.com/tbellini/gizmo/internal/config"
	"github.com/tbellini/gizmo/internal/eleven"
	"github.com/tbellini/gizmo/internal/history"
	"github.com/tbellini/gizmo/internal/httpapi"
	"github.com/tbellini/gizmo/internal/observability"
	"github.com/tbellini/gizmo/internal/speech"
	"github.com/tbellini/gizmo/internal/turn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryPath, cfg.HistoryMaxMessages)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	var adapter brain.Adapter
	if strings.TrimSpace(cfg.ChatAPIKey) != "" {
		adapter = brain.NewOpenAIAdapter(brain.OpenAIConfig{
			APIKey:       cfg.ChatAPIKey,
			BaseURL:      cfg.ChatBaseURL,
			DefaultModel: cfg.ChatModel,
		})
		log.Printf("chat relay: openai (%s)", cfg.ChatModel)
	} else {
		adapter = brain.NewMockAdapter()
		log.Printf("chat relay: mock (OPENAI_API_KEY not set)")
	}

	voiceClient := eleven.NewClient(eleven.Config{
		APIKey:         cfg.ElevenLabsAPIKey,
		BaseURL:        cfg.ElevenLabsBaseURL,
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
		DefaultModelID: cfg.ElevenLabsModelID,
		OutputFormat:   cfg.ElevenLabsOutputFormat,
	})

	var chain []speech.Producer

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return false
		}
		chain = append(chain, speech.NewElevenLabsProducer(voiceClient, nil))
		log.Printf("speech producer: elevenlabs")
		return true
	}
	tryOpenAI := func() bool {
		if strings.TrimSpace(cfg.ChatAPIKey) == "" {
			return false
		}
		chain = append(chain, speech.NewOpenAIProducer(speech.OpenAIProducerConfig{
			APIKey:  cfg.ChatAPIKey,
			BaseURL: cfg.ChatBaseURL,
		}, nil))
		log.Printf("speech producer: openai")
		return true
	}
	tryLocal := func(fatal bool) bool {
		p, err := speech.NewLocalProducer(cfg.LocalTTSCommand)
		if err != nil {
			if fatal {
				log.Fatalf("local speech producer init failed: %v", err)
			}
			log.Printf("local speech producer unavailable: %v", err)
			return false
		}
		chain = append(chain, p)
		log.Printf("speech producer: local (%s)", cfg.LocalTTSCommand)
		return true
	}

	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}
	switch speechMode {
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("SPEECH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		tryLocal(false)
	case "openai":
		if !tryOpenAI() {
			log.Fatalf("SPEECH_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		tryLocal(false)
	case "local":
		tryLocal(true)
	case "mock":
		chain = append(chain, speech.NewMockProducer("mock"))
		log.Printf("speech producer: mock")
	case "auto":
		// One vendor primary at most; local is always the fallback tail.
		if !tryElevenLabs() {
			tryOpenAI()
		}
		tryLocal(false)
		if len(chain) == 0 {
			chain = append(chain, speech.NewMockProducer("mock"))
			log.Printf("speech producer: mock (no vendor key and local tts unavailable)")
		}
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|elevenlabs|openai|local|mock)", cfg.SpeechProvider)
	}

	selector := speech.NewSelector(metrics, chain...)

	avatarClient := avatar.NewClient(avatar.Config{
		APIKey:         cfg.HeyGenAPIKey,
		BaseURL:        cfg.HeyGenBaseURL,
		DefaultAvatar:  cfg.HeyGenAvatarID,
		DefaultQuality: cfg.HeyGenQuality,
	})
	sessions := avatar.NewManager(cfg.AvatarSessionTimeout)
	sessions.SetExpireHook(func(s *avatar.Session) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := avatarClient.CloseSession(closeCtx, s.ID); err != nil {
			log.Printf("closing expired avatar session %s failed: %v", s.ID, err)
		}
		metrics.ActiveAvatarSessions.Set(float64(sessions.ActiveCount()))
	})

	coordinator := avatar.NewCoordinator(avatarClient, sessions, selector, cfg.IdleResumeDelay)
	coordinator.OnError(func(err error) {
		log.Printf("presentation error: %v", err)
	})

	orchestrator := turn.NewOrchestrator(store, adapter, metrics, turn.Options{
		System:        cfg.SystemPrompt,
		Model:         cfg.ChatModel,
		MaxTokens:     cfg.ChatMaxTokens,
		Temperature:   cfg.ChatTemperature,
		MaxWords:      cfg.MaxResponseWords,
		HistoryWindow: cfg.HistoryWindow,
	})

	api := httpapi.New(cfg, metrics, store, adapter, orchestrator, selector, coordinator, avatarClient, sessions, voiceClient)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 15*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	selector.Stop()
	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

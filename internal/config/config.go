package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the talking-character service.
// It is loaded once at startup and never mutated afterwards.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowedOrigins        []string
	AllowedOriginSuffixes []string
	RateLimitPerMinute    int

	HistoryMaxMessages int
	HistoryWindow      int
	MaxResponseWords   int

	ChatAPIKey      string
	ChatBaseURL     string
	ChatModel       string
	ChatMaxTokens   int
	ChatTemperature float64
	SystemPrompt    string

	ElevenLabsAPIKey       string
	ElevenLabsBaseURL      string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string

	HeyGenAPIKey         string
	HeyGenBaseURL        string
	HeyGenAvatarID       string
	HeyGenQuality        string
	AvatarSessionTimeout time.Duration
	IdleResumeDelay      time.Duration

	SpeechProvider  string
	LocalTTSCommand string

	DatabaseURL string
	HistoryPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "gizmo"),
		AllowedOrigins: splitList(envOrDefault("APP_ALLOWED_ORIGINS",
			"http://localhost:3000,http://localhost:5173,http://127.0.0.1:3000")),
		AllowedOriginSuffixes: splitList(envOrDefault("APP_ALLOWED_ORIGIN_SUFFIXES",
			".vercel.app,.netlify.app")),
		RateLimitPerMinute: 20,
		HistoryMaxMessages: 50,
		HistoryWindow:      12,
		MaxResponseWords:   60,
		ChatAPIKey:         trimmedEnv("OPENAI_API_KEY"),
		ChatBaseURL:        trimmedEnv("OPENAI_BASE_URL"),
		ChatModel:          envOrDefault("CHAT_MODEL", "gpt-4o-mini"),
		ChatMaxTokens:      200,
		ChatTemperature:    0.8,
		SystemPrompt: envOrDefault("CHAT_SYSTEM_PROMPT",
			"You are Gizmo, a cheerful animated character. Stay in character and keep replies short and playful."),
		ElevenLabsAPIKey:  trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Warm premade voice that suits the character demo.
		ElevenLabsVoiceID:      envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
		HeyGenAPIKey:           trimmedEnv("HEYGEN_API_KEY"),
		HeyGenBaseURL:          envOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com"),
		HeyGenAvatarID:         trimmedEnv("HEYGEN_AVATAR_ID"),
		HeyGenQuality:          envOrDefault("HEYGEN_QUALITY", "medium"),
		AvatarSessionTimeout:   2 * time.Minute,
		IdleResumeDelay:        1500 * time.Millisecond,
		SpeechProvider:         envOrDefault("SPEECH_PROVIDER", "auto"),
		LocalTTSCommand:        envOrDefault("LOCAL_TTS_COMMAND", "espeak"),
		DatabaseURL:            trimmedEnv("DATABASE_URL"),
		HistoryPath:            envOrDefault("HISTORY_PATH", "data/transcript.json"),
		ShutdownTimeout:        15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AvatarSessionTimeout, err = durationFromEnv("HEYGEN_SESSION_TIMEOUT", cfg.AvatarSessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleResumeDelay, err = durationFromEnv("APP_IDLE_RESUME_DELAY", cfg.IdleResumeDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMinute, err = intFromEnv("APP_RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxMessages, err = intFromEnv("APP_HISTORY_MAX_MESSAGES", cfg.HistoryMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("APP_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxResponseWords, err = intFromEnv("APP_MAX_RESPONSE_WORDS", cfg.MaxResponseWords)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatMaxTokens, err = intFromEnv("CHAT_MAX_TOKENS", cfg.ChatMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTemperature, err = floatFromEnv("CHAT_TEMPERATURE", cfg.ChatTemperature)
	if err != nil {
		return Config{}, err
	}

	if cfg.RateLimitPerMinute <= 0 {
		return Config{}, fmt.Errorf("APP_RATE_LIMIT_PER_MINUTE must be positive")
	}
	if cfg.HistoryMaxMessages <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_MAX_MESSAGES must be positive")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be positive")
	}
	if cfg.MaxResponseWords <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_RESPONSE_WORDS must be positive")
	}
	if cfg.ChatMaxTokens <= 0 {
		return Config{}, fmt.Errorf("CHAT_MAX_TOKENS must be positive")
	}
	if cfg.ChatTemperature < 0 || cfg.ChatTemperature > 2 {
		return Config{}, fmt.Errorf("CHAT_TEMPERATURE must be within [0, 2]")
	}
	if cfg.IdleResumeDelay < 0 {
		return Config{}, fmt.Errorf("APP_IDLE_RESUME_DELAY must not be negative")
	}
	if cfg.AvatarSessionTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("HEYGEN_SESSION_TIMEOUT must be at least 5s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice companion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	HFAPIKey             string
	WhisperModel         string
	WhisperFallbackModel string

	GeminiAPIKey string
	GeminiModel  string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	DatabaseURL string

	SystemPromptPath string

	AudioDir           string
	AudioServeGrace    time.Duration
	AudioOutputTTL     time.Duration
	AudioInputTTL      time.Duration
	AudioSweepInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ember"),
		AllowAnyOrigin:   true,
		HFAPIKey:         stringsTrimSpace("HF_API_KEY"),
		WhisperModel:     envOrDefault("WHISPER_MODEL_HF", "openai/whisper-large-v3"),
		// The base model stays warm far more often than large-v3, which makes
		// it a reliable second try when the primary is still loading.
		WhisperFallbackModel: envOrDefault("WHISPER_FALLBACK_MODEL_HF", "openai/whisper-base"),
		GeminiAPIKey:         stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:          envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		ElevenLabsAPIKey:     stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:    envOrDefault("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		SystemPromptPath:     envOrDefault("SYSTEM_PROMPT_PATH", "Systemprompt.txt"),
		AudioDir:             envOrDefault("AUDIO_DIR", "."),
		ShutdownTimeout:      15 * time.Second,
		AudioServeGrace:      30 * time.Second,
		AudioOutputTTL:       10 * time.Minute,
		AudioInputTTL:        5 * time.Minute,
		AudioSweepInterval:   5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioServeGrace, err = durationFromEnv("AUDIO_SERVE_GRACE", cfg.AudioServeGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioOutputTTL, err = durationFromEnv("AUDIO_OUTPUT_TTL", cfg.AudioOutputTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioInputTTL, err = durationFromEnv("AUDIO_INPUT_TTL", cfg.AudioInputTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioSweepInterval, err = durationFromEnv("AUDIO_SWEEP_INTERVAL", cfg.AudioSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.AudioServeGrace <= 0 {
		return Config{}, fmt.Errorf("AUDIO_SERVE_GRACE must be positive")
	}
	if cfg.AudioOutputTTL <= 0 {
		return Config{}, fmt.Errorf("AUDIO_OUTPUT_TTL must be positive")
	}
	if cfg.AudioInputTTL <= 0 {
		return Config{}, fmt.Errorf("AUDIO_INPUT_TTL must be positive")
	}
	if cfg.AudioSweepInterval < time.Second {
		return Config{}, fmt.Errorf("AUDIO_SWEEP_INTERVAL must be at least 1s")
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

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

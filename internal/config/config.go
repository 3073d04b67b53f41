package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for one character bot process.
type Config struct {
	BotName       string
	CharacterName string
	BotKey        string

	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	PlatformToken      string
	PlatformGatewayURL string
	PlatformAPIBase    string
	SelfUserID         int64
	GuildID            int64
	TargetChannelID    int64
	DiagChannelID      int64

	GenerationAPIURL string
	GenerationModel  string
	SpeechAPIBase    string
	ProviderTimeout  time.Duration

	VoiceEnabled  bool
	VoiceMaxChars int

	CharactersPath string

	DatabaseURL string

	WorkerPoolSize  int
	WorkerQueueSize int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BotName:            envOrDefault("BOT_NAME", ""),
		CharacterName:      envOrDefault("CHARACTER_NAME", ""),
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "chorus"),
		PlatformToken:      strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		PlatformGatewayURL: envOrDefault("PLATFORM_GATEWAY_URL", "wss://gateway.discord.gg/?v=10&encoding=json"),
		PlatformAPIBase:    envOrDefault("PLATFORM_API_BASE", "https://discord.com/api/v10"),
		GenerationAPIURL:   envOrDefault("GENERATION_API_URL", "https://ollama.com/api/chat"),
		GenerationModel:    envOrDefault("GENERATION_MODEL", "gpt-oss:120b"),
		SpeechAPIBase:      envOrDefault("SPEECH_API_BASE", "https://api.elevenlabs.io"),
		CharactersPath:     envOrDefault("CHARACTERS_PATH", "characters.yaml"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:    15 * time.Second,
		ProviderTimeout:    60 * time.Second,
		VoiceEnabled:       false,
		VoiceMaxChars:      600,
		WorkerPoolSize:     4,
		WorkerQueueSize:    256,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceEnabled, err = boolFromEnv("VOICE_ENABLED", cfg.VoiceEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceMaxChars, err = intFromEnv("VOICE_MAX_CHARS", cfg.VoiceMaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerPoolSize, err = intFromEnv("WORKER_POOL_SIZE", cfg.WorkerPoolSize)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerQueueSize, err = intFromEnv("WORKER_QUEUE_SIZE", cfg.WorkerQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.SelfUserID, err = int64FromEnv("BOT_USER_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.GuildID, err = int64FromEnv("GUILD_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.TargetChannelID, err = int64FromEnv("TARGET_CHANNEL_ID", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.DiagChannelID, err = int64FromEnv("DIAG_CHANNEL_ID", 0)
	if err != nil {
		return Config{}, err
	}

	if cfg.BotName == "" {
		return Config{}, fmt.Errorf("BOT_NAME is required")
	}
	if cfg.CharacterName == "" {
		cfg.CharacterName = cfg.BotName
	}
	cfg.BotKey = SanitizeBotKey(cfg.BotName)

	if cfg.ProviderTimeout < time.Second {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be at least 1s")
	}
	if cfg.VoiceMaxChars <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_CHARS must be positive")
	}
	if cfg.WorkerPoolSize <= 0 {
		return Config{}, fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}
	if cfg.WorkerQueueSize <= 0 {
		return Config{}, fmt.Errorf("WORKER_QUEUE_SIZE must be positive")
	}

	return cfg, nil
}

// SanitizeBotKey normalizes a bot name into the key used to namespace
// persisted scopes: lowercase, whitespace collapsed to underscores, and
// anything outside [a-z0-9_-] stripped.
func SanitizeBotKey(name string) string {
	t := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	pendingSep := false
	for _, r := range t {
		switch {
		case r == ' ' || r == '\t':
			pendingSep = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-':
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "bot"
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
}

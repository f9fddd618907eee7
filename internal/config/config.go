package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the conversation client.
type Config struct {
	Backend      BackendConfig
	Audio        AudioConfig
	Silence      SilenceConfig
	Conversation ConversationConfig
	Lexicon      LexiconConfig
	Control      ControlConfig
	Events       EventsConfig
	LogLevel     string
}

type BackendConfig struct {
	BaseURL           string
	HealthPath        string
	SynthesizePath    string
	UnderstandPath    string
	HealthTimeout     time.Duration
	SynthesizeTimeout time.Duration
	UnderstandTimeout time.Duration
}

// AudioConfig selects the capture and playback tools. Sample rate, channel
// count and the echo/noise/gain policy are fixed and not configurable.
type AudioConfig struct {
	RecorderCommand  string
	PlayerCommand    string
	InputFormat      string
	InputDevice      string
	EchoCancelSource string
	ChunkSize        int
}

type SilenceConfig struct {
	Threshold      float64
	Duration       time.Duration
	SampleInterval time.Duration
	Warmup         time.Duration
}

type ConversationConfig struct {
	Greeting          string
	GreetingFallback  time.Duration
	AfterPlayback     time.Duration
	AfterSkippedReply time.Duration
	EmptyCapture      time.Duration
	ExchangeFailure   time.Duration
	FillerInterval    time.Duration
	WatchdogPeriod    time.Duration
	WatchdogDelay     time.Duration
}

type LexiconConfig struct {
	Path      string
	Defaults  bool
	PassLimit int
}

// ControlConfig enables the optional HTTP control surface when Addr is set.
type ControlConfig struct {
	Addr string
}

// EventsConfig enables the optional NATS publisher when NATSURL is set.
type EventsConfig struct {
	NATSURL       string
	NATSToken     string
	SubjectPrefix string
}

// Load resolves configuration from an optional dotenv file, environment
// variables and defaults. Variables already set in the environment win over
// the dotenv file.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	lexiconPath := strings.TrimSpace(os.Getenv("VOICELOOP_LEXICON_FILE"))
	if lexiconPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			lexiconPath = filepath.Join(home, ".config", "voiceloop", "spoken.lexicon")
		}
	}

	cfg := Config{
		Backend: BackendConfig{
			BaseURL:           envOrDefault("VOICELOOP_BACKEND_URL", "http://localhost:5001/api"),
			HealthPath:        envOrDefault("VOICELOOP_BACKEND_HEALTH_PATH", "/health"),
			SynthesizePath:    envOrDefault("VOICELOOP_BACKEND_SYNTHESIZE_PATH", "/synthesize"),
			UnderstandPath:    envOrDefault("VOICELOOP_BACKEND_UNDERSTAND_PATH", "/understand"),
			HealthTimeout:     envOrDefaultDuration("VOICELOOP_HEALTH_TIMEOUT", 5*time.Second),
			SynthesizeTimeout: envOrDefaultDuration("VOICELOOP_SYNTHESIZE_TIMEOUT", 10*time.Second),
			UnderstandTimeout: envOrDefaultDuration("VOICELOOP_UNDERSTAND_TIMEOUT", 30*time.Second),
		},
		Audio: AudioConfig{
			RecorderCommand:  envOrDefault("VOICELOOP_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:    envOrDefault("VOICELOOP_FFPLAY_COMMAND", "ffplay"),
			InputFormat:      envOrDefault("VOICELOOP_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:      firstNonEmpty(os.Getenv("VOICELOOP_AUDIO_INPUT_DEVICE"), os.Getenv("PULSE_SOURCE"), "default"),
			EchoCancelSource: strings.TrimSpace(os.Getenv("VOICELOOP_ECHO_CANCEL_SOURCE")),
			ChunkSize:        envOrDefaultInt("VOICELOOP_AUDIO_CHUNK_SIZE", 4096),
		},
		Silence: SilenceConfig{
			Threshold:      envOrDefaultFloat("VOICELOOP_SILENCE_THRESHOLD", 25),
			Duration:       envOrDefaultDuration("VOICELOOP_SILENCE_DURATION", time.Second),
			SampleInterval: envOrDefaultDuration("VOICELOOP_SILENCE_SAMPLE_INTERVAL", 16*time.Millisecond),
			Warmup:         envOrDefaultDuration("VOICELOOP_SILENCE_WARMUP", 500*time.Millisecond),
		},
		Conversation: ConversationConfig{
			Greeting:          strings.TrimSpace(os.Getenv("VOICELOOP_GREETING")),
			GreetingFallback:  envOrDefaultDuration("VOICELOOP_GREETING_FALLBACK_DELAY", 2*time.Second),
			AfterPlayback:     envOrDefaultDuration("VOICELOOP_AFTER_PLAYBACK_DELAY", 800*time.Millisecond),
			AfterSkippedReply: envOrDefaultDuration("VOICELOOP_SKIPPED_REPLY_DELAY", 1800*time.Millisecond),
			EmptyCapture:      envOrDefaultDuration("VOICELOOP_EMPTY_CAPTURE_DELAY", 3*time.Second),
			ExchangeFailure:   envOrDefaultDuration("VOICELOOP_EXCHANGE_FAILURE_DELAY", 5*time.Second),
			FillerInterval:    envOrDefaultDuration("VOICELOOP_FILLER_INTERVAL", 2*time.Second),
			WatchdogPeriod:    envOrDefaultDuration("VOICELOOP_WATCHDOG_PERIOD", 3*time.Second),
			WatchdogDelay:     envOrDefaultDuration("VOICELOOP_WATCHDOG_DELAY", 500*time.Millisecond),
		},
		Lexicon: LexiconConfig{
			Path:      lexiconPath,
			Defaults:  envOrDefaultBool("VOICELOOP_LEXICON_DEFAULTS", true),
			PassLimit: envOrDefaultInt("VOICELOOP_LEXICON_PASS_LIMIT", 8),
		},
		Control: ControlConfig{
			Addr: strings.TrimSpace(os.Getenv("VOICELOOP_CONTROL_ADDR")),
		},
		Events: EventsConfig{
			NATSURL:       strings.TrimSpace(os.Getenv("VOICELOOP_NATS_URL")),
			NATSToken:     strings.TrimSpace(os.Getenv("VOICELOOP_NATS_TOKEN")),
			SubjectPrefix: envOrDefault("VOICELOOP_NATS_SUBJECT_PREFIX", "voiceloop.conversation"),
		},
		LogLevel: strings.ToLower(envOrDefault("VOICELOOP_LOG_LEVEL", "info")),
	}

	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Silence.Threshold <= 0 || cfg.Silence.Threshold > 255 {
		cfg.Silence.Threshold = 25
	}
	if cfg.Lexicon.PassLimit <= 0 {
		cfg.Lexicon.PassLimit = 8
	}

	return cfg, nil
}

// loadDotEnv reads VOICELOOP_ENV_FILE (default .env). Only an explicitly
// named file is required to exist.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("VOICELOOP_ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("800ms") or bare milliseconds.
// Negative or unparsable values fall back.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

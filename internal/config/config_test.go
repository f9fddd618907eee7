package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VOICELOOP_ENV_FILE", "")
	t.Setenv("VOICELOOP_LEXICON_FILE", "")
	t.Setenv("VOICELOOP_BACKEND_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:5001/api" || cfg.Backend.UnderstandPath != "/understand" {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Backend.SynthesizeTimeout != 10*time.Second || cfg.Backend.UnderstandTimeout != 30*time.Second {
		t.Fatalf("unexpected backend timeouts: %+v", cfg.Backend)
	}
	if cfg.Silence.Threshold != 25 || cfg.Silence.Duration != time.Second || cfg.Silence.SampleInterval != 16*time.Millisecond {
		t.Fatalf("unexpected silence config: %+v", cfg.Silence)
	}
	if cfg.Conversation.AfterPlayback != 800*time.Millisecond || cfg.Conversation.WatchdogPeriod != 3*time.Second {
		t.Fatalf("unexpected conversation config: %+v", cfg.Conversation)
	}
	if want := filepath.Join(home, ".config", "voiceloop", "spoken.lexicon"); cfg.Lexicon.Path != want || !cfg.Lexicon.Defaults {
		t.Fatalf("unexpected lexicon config: %+v", cfg.Lexicon)
	}
	if cfg.Control.Addr != "" || cfg.Events.NATSURL != "" {
		t.Fatalf("optional surfaces must be disabled by default")
	}
	if cfg.Events.SubjectPrefix != "voiceloop.conversation" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected events/log config: %+v %q", cfg.Events, cfg.LogLevel)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICELOOP_ENV_FILE", "")
	t.Setenv("VOICELOOP_BACKEND_URL", "http://assistant.local:8080/api")
	t.Setenv("VOICELOOP_BACKEND_UNDERSTAND_PATH", "/ask")
	t.Setenv("VOICELOOP_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("VOICELOOP_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("VOICELOOP_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("VOICELOOP_ECHO_CANCEL_SOURCE", "echo-cancel-source")
	t.Setenv("VOICELOOP_SILENCE_THRESHOLD", "30.5")
	t.Setenv("VOICELOOP_SILENCE_DURATION", "1500ms")
	t.Setenv("VOICELOOP_AFTER_PLAYBACK_DELAY", "250")
	t.Setenv("VOICELOOP_LEXICON_FILE", "/tmp/custom.lexicon")
	t.Setenv("VOICELOOP_LEXICON_DEFAULTS", "off")
	t.Setenv("VOICELOOP_CONTROL_ADDR", "127.0.0.1:7311")
	t.Setenv("VOICELOOP_NATS_URL", "nats://localhost:4222")
	t.Setenv("VOICELOOP_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.BaseURL != "http://assistant.local:8080/api" || cfg.Backend.UnderstandPath != "/ask" {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.EchoCancelSource != "echo-cancel-source" {
		t.Fatalf("unexpected echo cancel source %q", cfg.Audio.EchoCancelSource)
	}
	if cfg.Silence.Threshold != 30.5 || cfg.Silence.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected silence config: %+v", cfg.Silence)
	}
	if cfg.Conversation.AfterPlayback != 250*time.Millisecond {
		t.Fatalf("bare numbers are milliseconds, got %s", cfg.Conversation.AfterPlayback)
	}
	if cfg.Lexicon.Path != "/tmp/custom.lexicon" || cfg.Lexicon.Defaults {
		t.Fatalf("unexpected lexicon config: %+v", cfg.Lexicon)
	}
	if cfg.Control.Addr != "127.0.0.1:7311" || cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Fatalf("unexpected optional surfaces: %+v %+v", cfg.Control, cfg.Events)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.LogLevel)
	}
}

func TestLoadInvalidValuesFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICELOOP_ENV_FILE", "")
	t.Setenv("VOICELOOP_AUDIO_CHUNK_SIZE", "5")
	t.Setenv("VOICELOOP_SILENCE_THRESHOLD", "loud")
	t.Setenv("VOICELOOP_SILENCE_DURATION", "-2s")
	t.Setenv("VOICELOOP_EMPTY_CAPTURE_DELAY", "soon")
	t.Setenv("VOICELOOP_LEXICON_PASS_LIMIT", "0")
	t.Setenv("VOICELOOP_LEXICON_DEFAULTS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("expected chunk size fallback, got %d", cfg.Audio.ChunkSize)
	}
	if cfg.Silence.Threshold != 25 || cfg.Silence.Duration != time.Second {
		t.Fatalf("unexpected silence fallback: %+v", cfg.Silence)
	}
	if cfg.Conversation.EmptyCapture != 3*time.Second {
		t.Fatalf("unexpected empty capture fallback: %s", cfg.Conversation.EmptyCapture)
	}
	if cfg.Lexicon.PassLimit != 8 || !cfg.Lexicon.Defaults {
		t.Fatalf("unexpected lexicon fallback: %+v", cfg.Lexicon)
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "voiceloop.env")
	contents := "VOICELOOP_GREETING=Hi from the clinic\nVOICELOOP_BACKEND_URL=http://from-file/api\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", dir)
	t.Setenv("VOICELOOP_ENV_FILE", envFile)
	t.Setenv("VOICELOOP_BACKEND_URL", "http://from-env/api")
	unsetAfter(t, "VOICELOOP_GREETING")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Conversation.Greeting != "Hi from the clinic" {
		t.Fatalf("expected greeting from env file, got %q", cfg.Conversation.Greeting)
	}
	if cfg.Backend.BaseURL != "http://from-env/api" {
		t.Fatalf("environment must win over env file, got %q", cfg.Backend.BaseURL)
	}
}

func TestLoadMissingExplicitEnvFileFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VOICELOOP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit env file")
	}
}

// unsetAfter clears a variable the env file may set, since godotenv writes
// straight into the process environment.
func unsetAfter(t *testing.T, key string) {
	t.Helper()
	previous, had := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset failed: %v", err)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, previous)
			return
		}
		_ = os.Unsetenv(key)
	})
}

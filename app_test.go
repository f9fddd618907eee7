package main

import (
	"errors"
	"testing"

	"voiceloop/internal/domain"
)

func TestErrorTitle(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorKind]string{
		domain.ErrorKindStartup:      "Startup failed",
		domain.ErrorKindDevice:       "Microphone unavailable",
		domain.ErrorKindEmptyCapture: "No audio detected",
		domain.ErrorKindSynthesis:    "Speech synthesis failed",
		domain.ErrorKindNetwork:      "Backend unreachable",
		domain.ErrorKindServer:       "Backend error",
		domain.ErrorKindTimeout:      "Request timed out",
	}
	for kind, want := range cases {
		kind := kind
		want := want
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			if got := errorTitle(kind); got != want {
				t.Fatalf("unexpected title: %q", got)
			}
		})
	}

	if got := errorTitle("unknown"); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestCommandsBeforeStartup(t *testing.T) {
	t.Parallel()

	app := NewApp()
	commands := map[string]func() (domain.Status, error){
		"start":          app.StartConversation,
		"pause":          app.PauseConversation,
		"resume":         app.ResumeConversation,
		"stop-listening": app.StopListeningNow,
		"force-listen":   app.ForceListenNow,
	}
	for name, command := range commands {
		if _, err := command(); err == nil {
			t.Fatalf("%s: expected error before startup", name)
		}
	}
	if history := app.GetHistory(); len(history) != 0 {
		t.Fatalf("expected empty history, got %v", history)
	}
}

func TestGetStatusReportsBootError(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if status := app.GetStatus(); status.State != domain.StateIdle || status.LastError != "" {
		t.Fatalf("unexpected status before startup: %+v", status)
	}

	app.bootErr = errors.New("failed to load env file")
	status := app.GetStatus()
	if status.LastError != "failed to load env file" || status.Message != "Startup failed" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "failed to load env file" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestEventsWithoutRuntimeAreDropped(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.StateChanged(domain.Status{State: domain.StateListening}, domain.ReasonListeningStarted)
	app.TurnAppended(domain.Turn{Text: "hello"})
	app.Notice("Analyzing...")
	app.SessionError(domain.ErrorKindNetwork, "")
}

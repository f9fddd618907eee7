package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VOICELOOP_ENV_FILE", "")
	t.Setenv("VOICELOOP_LEXICON_FILE", "")
	t.Setenv("VOICELOOP_CONTROL_ADDR", "")
	t.Setenv("VOICELOOP_NATS_URL", "")
	return home
}

func TestBuildSuccess(t *testing.T) {
	isolate(t)

	services, err := Build(&recordingSink{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()
	if services.Controller == nil || services.Watchdog == nil || services.Backend == nil {
		t.Fatalf("expected controller, watchdog and backend client")
	}
	if services.Remote != nil || services.Bus != nil {
		t.Fatalf("optional surfaces should be disabled by default")
	}
	if services.Backend.BaseURL() != "http://localhost:5001/api" {
		t.Fatalf("unexpected backend url %q", services.Backend.BaseURL())
	}
	if status := services.Controller.Status(); status.State != domain.StateIdle {
		t.Fatalf("expected idle controller, got %q", status.State)
	}
}

func TestBuildEnablesControlSurface(t *testing.T) {
	isolate(t)
	t.Setenv("VOICELOOP_CONTROL_ADDR", "127.0.0.1:0")

	services, err := Build(&recordingSink{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Remote == nil {
		t.Fatalf("expected control server")
	}
	if services.Remote.Hub() == nil {
		t.Fatalf("expected event hub")
	}
}

func TestBuildFailsOnInvalidLexicon(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.lexicon")
	if err := os.WriteFile(path, []byte("not a valid entry\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("VOICELOOP_LEXICON_FILE", path)

	if _, err := Build(&recordingSink{}, nil); err == nil {
		t.Fatalf("expected build error due to invalid lexicon")
	}
}

func TestCheckBackendReportsStartupError(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	err := CheckBackend(context.Background(), healthBackend{err: domain.NewError(domain.ErrorKindStartup, "Backend server is not running", errors.New("dial tcp: refused"))}, sink, nil)
	if err == nil {
		t.Fatalf("expected health error")
	}
	if len(sink.errors) != 1 || sink.errors[0] != "startup: Backend server is not running" {
		t.Fatalf("unexpected reported errors %v", sink.errors)
	}

	if err := CheckBackend(context.Background(), healthBackend{}, sink, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.errors) != 1 {
		t.Fatalf("healthy backend should not report")
	}
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	t.Parallel()

	first, second := &recordingSink{}, &recordingSink{}
	sinks := fanout{first, second}
	sinks.Notice("Analyzing...")
	sinks.SessionError(domain.ErrorKindNetwork, "No response from server. Is the backend running?")

	for i, sink := range []*recordingSink{first, second} {
		if len(sink.notices) != 1 || len(sink.errors) != 1 {
			t.Fatalf("sink %d missed events: %+v", i, sink)
		}
	}
}

type recordingSink struct {
	mu      sync.Mutex
	notices []string
	errors  []string
}

func (s *recordingSink) StateChanged(domain.Status, domain.StateReason) {}
func (s *recordingSink) TurnAppended(domain.Turn)                       {}

func (s *recordingSink) Notice(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, message)
}

func (s *recordingSink) SessionError(kind domain.ErrorKind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, string(kind)+": "+detail)
}

type healthBackend struct {
	err error
}

func (b healthBackend) Health(context.Context) error { return b.err }

func (healthBackend) Synthesize(context.Context, string) ([]byte, error) { return nil, nil }

func (healthBackend) Understand(context.Context, ports.Utterance) (ports.Exchange, error) {
	return ports.Exchange{}, nil
}

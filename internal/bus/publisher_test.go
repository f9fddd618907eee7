package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"voiceloop/internal/domain"
)

func TestPublisherSubjectsAndPayloads(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	publisher := NewPublisher(conn, "clinic.voice.", nil)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return at }

	publisher.StateChanged(domain.Status{State: domain.StateProcessing, Active: true, Message: "Processing your request..."}, domain.ReasonUtteranceCaptured)
	publisher.TurnAppended(domain.Turn{ID: "t1", Speaker: domain.SpeakerUser, Text: "Tell me about Rivera"})
	publisher.Notice("Searching records...")
	publisher.SessionError(domain.ErrorKindServer, "Server error: 500 - Internal Server Error")

	msgs := conn.snapshot()
	wantSubjects := []string{"clinic.voice.state", "clinic.voice.turn", "clinic.voice.notice", "clinic.voice.error"}
	if len(msgs) != len(wantSubjects) {
		t.Fatalf("expected %d messages, got %d", len(wantSubjects), len(msgs))
	}
	for i, subject := range wantSubjects {
		if msgs[i].subject != subject {
			t.Fatalf("message %d: expected subject %q, got %q", i, subject, msgs[i].subject)
		}
	}

	var state domain.Event
	if err := json.Unmarshal(msgs[0].data, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Reason != domain.ReasonUtteranceCaptured || state.Status == nil || state.Status.State != domain.StateProcessing {
		t.Fatalf("unexpected state event %+v", state)
	}
	if !state.At.Equal(at) || state.Message != "Processing your request..." {
		t.Fatalf("unexpected state metadata %+v", state)
	}

	var failure domain.Event
	if err := json.Unmarshal(msgs[3].data, &failure); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if failure.ErrorKind != domain.ErrorKindServer {
		t.Fatalf("unexpected error event %+v", failure)
	}
}

func TestPublisherDefaultPrefixAndFailures(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{err: errors.New("nats: connection closed")}
	publisher := NewPublisher(conn, "  ", nil)
	if got := publisher.Subject(domain.EventNotice); got != "voiceloop.conversation.notice" {
		t.Fatalf("unexpected subject %q", got)
	}

	// Publish errors are swallowed.
	publisher.Notice("Analyzing...")
	if len(conn.snapshot()) != 1 {
		t.Fatalf("expected a publish attempt")
	}
	publisher.Close()
}

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject: subject, data: append([]byte(nil), data...)})
	return f.err
}

func (f *fakeConn) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

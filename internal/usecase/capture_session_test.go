package usecase

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

func TestCaptureSessionStopIsIdempotent(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession([][]byte{[]byte("abc"), []byte("def")})
	meter := &fakeMeter{}
	session := newTestCaptureSession(&singleCapture{session: audio}, meter)

	if err := session.start(context.Background(), 512, samplingConfig{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, func() bool { return audio.readCount() == 2 }, "chunks read")

	utterance, err := session.stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if string(utterance.Audio) != "abcdef" {
		t.Fatalf("unexpected utterance: %q", utterance.Audio)
	}
	if meter.bytes != 6 {
		t.Fatalf("meter must see every chunk, got %d bytes", meter.bytes)
	}

	again, err := session.stop()
	if err != nil || !again.Empty() {
		t.Fatalf("second stop must be a no-op, got %+v %v", again, err)
	}
	if audio.stopCount() != 1 {
		t.Fatalf("expected device released once, got %d", audio.stopCount())
	}
}

func TestCaptureSessionStartFailureIsDeviceError(t *testing.T) {
	t.Parallel()

	session := newTestCaptureSession(&singleCapture{err: errors.New("no such device")}, &fakeMeter{})

	err := session.start(context.Background(), 512, samplingConfig{Interval: time.Millisecond})
	if domain.KindOf(err) != domain.ErrorKindDevice {
		t.Fatalf("expected device error, got %v", err)
	}

	utterance, stopErr := session.stop()
	if stopErr != nil || !utterance.Empty() {
		t.Fatalf("stop after failed start must be empty, got %+v %v", utterance, stopErr)
	}
}

func TestCaptureSessionDiscardWithoutAudio(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession(nil)
	session := newTestCaptureSession(&singleCapture{session: audio}, &fakeMeter{})
	if err := session.start(context.Background(), 512, samplingConfig{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	session.discard()
	if audio.stopCount() != 1 {
		t.Fatalf("discard must release the device")
	}
	if session.silenceArmed() {
		t.Fatalf("discarded session must not keep a silence timer")
	}
}

func TestCaptureSessionDeviceEndSignals(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession([][]byte{[]byte("abc")})
	audio.eof = true
	ended := make(chan struct{})
	detector := newSilenceDetector(clockwork.NewRealClock(), 25, time.Hour, nil)
	session := newCaptureSession(7, &singleCapture{session: audio}, fakeEncoder{}, &fakeMeter{level: voiceLevel}, detector, ports.AudioConfig{SampleRate: 44100, Channels: 1}, slog.Default(), func() { close(ended) })

	if err := session.start(context.Background(), 512, samplingConfig{Interval: time.Millisecond}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("device end was not signalled")
	}
	if !session.deviceEnded() {
		t.Fatalf("expected the session to report the device end")
	}

	utterance, err := session.stop()
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if string(utterance.Audio) != "abc" {
		t.Fatalf("audio read before the device end must be kept, got %q", utterance.Audio)
	}
}

func TestCaptureSessionSamplesWithoutAudio(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{})
	detector := newSilenceDetector(clockwork.NewRealClock(), 25, 5*time.Millisecond, func() { close(fired) })
	session := newCaptureSession(1, &singleCapture{session: newFakeAudioSession(nil)}, fakeEncoder{}, &fakeMeter{}, detector, ports.AudioConfig{SampleRate: 44100, Channels: 1}, slog.Default(), nil)

	if err := session.start(context.Background(), 512, samplingConfig{Warmup: time.Millisecond, Interval: time.Millisecond}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.discard()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("silence must be detected even when the device sends nothing")
	}
}

func newTestCaptureSession(recorder ports.AudioCapture, meter ports.LevelMeter) *captureSession {
	detector := newSilenceDetector(clockwork.NewRealClock(), 25, time.Hour, nil)
	return newCaptureSession(1, recorder, fakeEncoder{}, meter, detector, ports.AudioConfig{SampleRate: 44100, Channels: 1}, slog.Default(), nil)
}

type singleCapture struct {
	session ports.AudioSession
	err     error
}

func (s *singleCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

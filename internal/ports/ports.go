package ports

import (
	"context"
	"errors"
	"io"

	"voiceloop/internal/domain"
)

// CaptureConstraints is the fixed processing policy requested from the input device.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	Constraints CaptureConstraints
}

// AudioSession is a live capture session producing s16le PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// LevelMeter turns the live PCM stream into a scalar loudness level.
type LevelMeter interface {
	Write(pcm []byte)
	Level() float64
}

// MeterFactory creates one meter per capture session.
type MeterFactory interface {
	NewMeter(cfg AudioConfig) LevelMeter
}

// Utterance is one encoded, upload-ready recording.
type Utterance struct {
	Audio       []byte
	ContentType string
	Filename    string
}

// Empty reports whether no audio was captured.
func (u Utterance) Empty() bool { return len(u.Audio) == 0 }

// UtteranceEncoder wraps raw PCM into an upload container.
type UtteranceEncoder interface {
	Encode(pcm []byte, cfg AudioConfig) (Utterance, error)
}

// ErrPlaybackStopped is delivered on Playback.Done after an explicit Stop.
var ErrPlaybackStopped = errors.New("playback stopped")

// Playback is one running playback. Done yields exactly one value:
// nil on natural end, ErrPlaybackStopped after Stop, any other error on failure.
type Playback interface {
	Done() <-chan error
	Stop() error
}

// AudioPlayer starts playback of a synthesized payload.
type AudioPlayer interface {
	Play(ctx context.Context, payload []byte) (Playback, error)
}

// Exchange is the result of one understanding round-trip.
type Exchange struct {
	Transcript string
	ReplyText  string
}

// Backend is the remote speech understanding and synthesis service.
type Backend interface {
	Health(ctx context.Context) error
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Understand(ctx context.Context, utterance Utterance) (Exchange, error)
}

// TextRewriter transforms assistant text into its spoken form.
type TextRewriter interface {
	Apply(text string) (string, error)
}

// EventSink emits controller state and events to presentation layers.
// Implementations must not block.
type EventSink interface {
	StateChanged(status domain.Status, reason domain.StateReason)
	TurnAppended(turn domain.Turn)
	Notice(message string)
	SessionError(kind domain.ErrorKind, detail string)
}

package usecase

import (
	"context"
	"errors"
	"sync"

	"voiceloop/internal/ports"
)

type playbackOutcome string

const (
	playbackCompleted playbackOutcome = "completed"
	playbackStopped   playbackOutcome = "stopped"
	playbackFailed    playbackOutcome = "failed"
)

// playbackSession wraps one running playback and reports its outcome
// exactly once through onFinish.
type playbackSession struct {
	id       uint64
	playback ports.Playback
	onFinish func(id uint64, outcome playbackOutcome, err error)
	once     sync.Once
}

func startPlayback(
	ctx context.Context,
	player ports.AudioPlayer,
	id uint64,
	payload []byte,
	onFinish func(id uint64, outcome playbackOutcome, err error),
) (*playbackSession, error) {
	playback, err := player.Play(ctx, payload)
	if err != nil {
		return nil, err
	}

	session := &playbackSession{id: id, playback: playback, onFinish: onFinish}
	go session.watch()
	return session, nil
}

func (s *playbackSession) watch() {
	err, ok := <-s.playback.Done()
	switch {
	case !ok || err == nil:
		s.finish(playbackCompleted, nil)
	case errors.Is(err, ports.ErrPlaybackStopped):
		s.finish(playbackStopped, nil)
	default:
		s.finish(playbackFailed, err)
	}
}

func (s *playbackSession) finish(outcome playbackOutcome, err error) {
	s.once.Do(func() {
		if s.onFinish != nil {
			s.onFinish(s.id, outcome, err)
		}
	})
}

// stop interrupts playback; the outcome is reported as stopped.
func (s *playbackSession) stop() {
	_ = s.playback.Stop()
}

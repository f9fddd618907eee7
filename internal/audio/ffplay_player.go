package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"voiceloop/internal/ports"
)

// FFPlayPlayer plays synthesized audio by piping it into ffplay.
type FFPlayPlayer struct {
	command string
}

func NewFFPlayPlayer(command string) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayPlayer{command: command}
}

func (p *FFPlayPlayer) Play(ctx context.Context, payload []byte) (ports.Playback, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty audio payload")
	}

	cmd := exec.CommandContext(ctx, p.command,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}

	playback := &ffplayPlayback{cmd: cmd, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		switch {
		case playback.stopped.Load():
			playback.done <- ports.ErrPlaybackStopped
		case err != nil:
			playback.done <- fmt.Errorf("ffplay failed: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		default:
			playback.done <- nil
		}
		close(playback.done)
	}()

	return playback, nil
}

type ffplayPlayback struct {
	cmd  *exec.Cmd
	done chan error

	stopped  atomic.Bool
	stopOnce sync.Once
}

func (p *ffplayPlayback) Done() <-chan error { return p.done }

func (p *ffplayPlayback) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

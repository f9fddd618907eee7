package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

// samplingConfig controls the silence sampling loop of one capture session.
type samplingConfig struct {
	Warmup   time.Duration
	Interval time.Duration
}

// captureSession owns one microphone recording: the device handle, the
// buffered chunks, the level meter and the silence detector.
type captureSession struct {
	id       uint64
	cfg      ports.AudioConfig
	recorder ports.AudioCapture
	encoder  ports.UtteranceEncoder
	meter    ports.LevelMeter
	detector *silenceDetector
	logger   *slog.Logger

	audio      ports.AudioSession
	cancel     context.CancelFunc
	onEnded    func()
	pumpDone   chan struct{}
	sampleDone chan struct{}

	mu      sync.Mutex
	chunks  [][]byte
	started bool
	stopped bool
	ended   bool
}

func newCaptureSession(
	id uint64,
	recorder ports.AudioCapture,
	encoder ports.UtteranceEncoder,
	meter ports.LevelMeter,
	detector *silenceDetector,
	cfg ports.AudioConfig,
	logger *slog.Logger,
	onEnded func(),
) *captureSession {
	return &captureSession{
		id:         id,
		cfg:        cfg,
		recorder:   recorder,
		encoder:    encoder,
		meter:      meter,
		detector:   detector,
		logger:     logger,
		onEnded:    onEnded,
		pumpDone:   make(chan struct{}),
		sampleDone: make(chan struct{}),
	}
}

// start acquires the input device and begins buffering and sampling.
// Any acquisition failure is reported as a device error.
func (s *captureSession) start(ctx context.Context, chunkSize int, sampling samplingConfig) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	audioSession, err := s.recorder.Start(sessionCtx, s.cfg)
	if err != nil {
		cancel()
		return domain.NewError(domain.ErrorKindDevice, "Error accessing microphone. Please allow microphone access and try again.", err)
	}

	s.mu.Lock()
	s.audio = audioSession
	s.cancel = cancel
	s.chunks = nil
	s.started = true
	s.mu.Unlock()

	go s.pump(chunkSize)
	go func() {
		defer close(s.sampleDone)
		s.detector.Run(sessionCtx, s.meter, sampling.Warmup, sampling.Interval)
	}()
	return nil
}

// pump buffers device audio until the session ends. When the device ends
// the stream on its own, onEnded is called after pumpDone is closed.
func (s *captureSession) pump(chunkSize int) {
	s.read(chunkSize)
	close(s.pumpDone)

	s.mu.Lock()
	unsolicited := !s.stopped
	if unsolicited {
		s.ended = true
	}
	s.mu.Unlock()

	if unsolicited {
		s.logger.Warn("audio capture ended before the utterance was complete", "capture", s.id)
		if s.onEnded != nil {
			s.onEnded()
		}
	}
}

func (s *captureSession) read(chunkSize int) {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.mu.Unlock()
			s.meter.Write(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("audio capture read failed", "capture", s.id, "error", err)
			}
			return
		}
	}
}

// deviceEnded reports whether the device closed the stream before stop.
func (s *captureSession) deviceEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// silenceArmed reports whether the detector has a pending silence timer.
func (s *captureSession) silenceArmed() bool {
	return s.detector.Armed()
}

// stop finalizes buffering, releases the device and returns the encoded
// utterance. An empty Utterance means nothing was captured. Calling stop
// again is a no-op.
func (s *captureSession) stop() (ports.Utterance, error) {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		s.detector.Close()
		return ports.Utterance{}, nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.detector.Close()
	if err := s.audio.Stop(); err != nil {
		s.logger.Warn("failed to stop audio capture cleanly", "capture", s.id, "error", err)
	}
	<-s.pumpDone
	s.cancel()
	<-s.sampleDone

	s.mu.Lock()
	pcm := bytes.Join(s.chunks, nil)
	s.chunks = nil
	s.mu.Unlock()

	if len(pcm) == 0 {
		return ports.Utterance{}, nil
	}
	return s.encoder.Encode(pcm, s.cfg)
}

// discard stops the session and drops whatever was buffered.
func (s *captureSession) discard() {
	_, _ = s.stop()
}

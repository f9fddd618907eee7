package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"voiceloop/internal/ports"
)

// silenceDetector classifies level samples and signals end-of-utterance once
// silence has lasted for duration. It fires at most once per instance.
type silenceDetector struct {
	clock     clockwork.Clock
	threshold float64
	duration  time.Duration
	onSilence func()

	mu         sync.Mutex
	timer      clockwork.Timer
	generation uint64
	fired      bool
	closed     bool
}

func newSilenceDetector(clock clockwork.Clock, threshold float64, duration time.Duration, onSilence func()) *silenceDetector {
	return &silenceDetector{
		clock:     clock,
		threshold: threshold,
		duration:  duration,
		onSilence: onSilence,
	}
}

// Observe classifies one sample. A loud sample resets the silence clock.
func (d *silenceDetector) Observe(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.fired {
		return
	}
	if level >= d.threshold {
		d.cancelLocked()
		return
	}
	if d.timer == nil {
		d.armLocked()
	}
}

// Armed reports whether a silence timer is pending.
func (d *silenceDetector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Close cancels any pending timer; later samples and expiries are ignored.
func (d *silenceDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cancelLocked()
}

func (d *silenceDetector) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed || d.fired
}

// Run samples meter every interval until ctx ends or the detector closes.
// Sampling begins once warmup has elapsed after the device started, whether
// or not any audio has arrived.
func (d *silenceDetector) Run(ctx context.Context, meter ports.LevelMeter, warmup time.Duration, interval time.Duration) {
	if warmup > 0 {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(warmup):
		}
	}

	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if d.isClosed() {
				return
			}
			d.Observe(meter.Level())
		}
	}
}

func (d *silenceDetector) armLocked() {
	d.cancelLocked()
	generation := d.generation
	d.timer = d.clock.AfterFunc(d.duration, func() { d.expire(generation) })
}

// cancelLocked stops the pending timer and invalidates an expiry already in flight.
func (d *silenceDetector) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
}

func (d *silenceDetector) expire(generation uint64) {
	d.mu.Lock()
	if d.closed || d.fired || d.timer == nil || generation != d.generation {
		d.mu.Unlock()
		return
	}
	d.fired = true
	d.timer = nil
	d.mu.Unlock()

	if d.onSilence != nil {
		d.onSilence()
	}
}

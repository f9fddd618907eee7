package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"voiceloop/internal/domain"
)

// ContinuityTarget is the controller surface the watchdog reconciles against.
type ContinuityTarget interface {
	Status() domain.Status
	RearmListening(ctx context.Context, delay time.Duration) error
}

// ContinuityWatchdog periodically nudges a stalled conversation back into
// listening. It never interrupts a running phase.
type ContinuityWatchdog struct {
	target ContinuityTarget
	clock  clockwork.Clock
	period time.Duration
	delay  time.Duration
	logger *slog.Logger
}

func NewContinuityWatchdog(target ContinuityTarget, clock clockwork.Clock, period time.Duration, delay time.Duration, logger *slog.Logger) *ContinuityWatchdog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = 3 * time.Second
	}
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContinuityWatchdog{target: target, clock: clock, period: period, delay: delay, logger: logger}
}

// Run ticks until ctx is cancelled.
func (w *ContinuityWatchdog) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass and reports whether a re-arm was requested.
func (w *ContinuityWatchdog) Tick(ctx context.Context) bool {
	status := w.target.Status()
	if !status.Stalled() {
		return false
	}

	w.logger.Info("conversation stalled; re-arming listening", "state", status.State, "delay", w.delay)
	if err := w.target.RearmListening(ctx, w.delay); err != nil {
		w.logger.Warn("watchdog re-arm failed", "error", err)
		return false
	}
	return true
}

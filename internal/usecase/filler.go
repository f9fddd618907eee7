package usecase

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultFillerPhrases are shown while an understanding request is pending.
var DefaultFillerPhrases = []string{
	"Processing...",
	"Searching records...",
	"Analyzing...",
	"Looking up data...",
	"Checking records...",
}

// startFiller emits the phrases round-robin every interval until the
// returned stop function is called. Purely cosmetic.
func startFiller(clock clockwork.Clock, interval time.Duration, phrases []string, emit func(string)) func() {
	if interval <= 0 || len(phrases) == 0 {
		return func() {}
	}

	ticker := clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		next := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				emit(phrases[next])
				next = (next + 1) % len(phrases)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

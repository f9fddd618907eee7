package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"voiceloop/internal/domain"
)

// history is the append-only conversation record. Only the controller loop
// appends to it.
type history struct {
	turns []domain.Turn
}

func (h *history) append(speaker domain.Speaker, text string, at time.Time) domain.Turn {
	// Timestamps are strictly increasing so ordering by time matches insertion order.
	if n := len(h.turns); n > 0 {
		if last := h.turns[n-1].OccurredAt; !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
	}

	turn := domain.Turn{
		ID:         uuid.NewString(),
		Speaker:    speaker,
		Text:       strings.TrimSpace(text),
		OccurredAt: at,
	}
	h.turns = append(h.turns, turn)
	return turn
}

func (h *history) len() int {
	return len(h.turns)
}

// view returns the current turns without copying. Entries are never
// mutated, so the returned slice stays valid while the history grows.
func (h *history) view() []domain.Turn {
	return h.turns[:len(h.turns):len(h.turns)]
}

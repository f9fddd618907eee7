package bootstrap

import (
	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

// fanout delivers every conversation event to each sink in order.
type fanout []ports.EventSink

func (f fanout) StateChanged(status domain.Status, reason domain.StateReason) {
	for _, sink := range f {
		sink.StateChanged(status, reason)
	}
}

func (f fanout) TurnAppended(turn domain.Turn) {
	for _, sink := range f {
		sink.TurnAppended(turn)
	}
}

func (f fanout) Notice(message string) {
	for _, sink := range f {
		sink.Notice(message)
	}
}

func (f fanout) SessionError(kind domain.ErrorKind, detail string) {
	for _, sink := range f {
		sink.SessionError(kind, detail)
	}
}

func domainKind(err error) domain.ErrorKind {
	if kind := domain.KindOf(err); kind != "" {
		return kind
	}
	return domain.ErrorKindStartup
}

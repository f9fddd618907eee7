package domain

import "time"

// EventType names an outbound conversation event.
type EventType string

const (
	EventState  EventType = "state"
	EventTurn   EventType = "turn"
	EventNotice EventType = "notice"
	EventError  EventType = "error"
)

// Event is the wire envelope shared by every event mirror (desktop, websocket, bus).
type Event struct {
	Type      EventType   `json:"type"`
	At        time.Time   `json:"at"`
	Status    *Status     `json:"status,omitempty"`
	Reason    StateReason `json:"reason,omitempty"`
	Turn      *Turn       `json:"turn,omitempty"`
	Message   string      `json:"message,omitempty"`
	ErrorKind ErrorKind   `json:"errorKind,omitempty"`
}

func StateEvent(at time.Time, status Status, reason StateReason) Event {
	return Event{Type: EventState, At: at, Status: &status, Reason: reason, Message: status.Message}
}

func TurnEvent(at time.Time, turn Turn) Event {
	return Event{Type: EventTurn, At: at, Turn: &turn}
}

func NoticeEvent(at time.Time, message string) Event {
	return Event{Type: EventNotice, At: at, Message: message}
}

func ErrorEvent(at time.Time, kind ErrorKind, message string) Event {
	return Event{Type: EventError, At: at, ErrorKind: kind, Message: message}
}

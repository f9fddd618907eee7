package domain

import "time"

// ConversationState models the hands-free conversation lifecycle.
type ConversationState string

const (
	StateIdle       ConversationState = "idle"
	StateGreeting   ConversationState = "greeting"
	StateListening  ConversationState = "listening"
	StateProcessing ConversationState = "processing"
	StateSpeaking   ConversationState = "speaking"
	StatePaused     ConversationState = "paused"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonConversationStarted StateReason = "conversation_started"
	ReasonGreetingPlayed      StateReason = "greeting_played"
	ReasonGreetingSkipped     StateReason = "greeting_skipped"
	ReasonListeningStarted    StateReason = "listening_started"
	ReasonUtteranceCaptured   StateReason = "utterance_captured"
	ReasonNoAudio             StateReason = "no_audio"
	ReasonReplyReady          StateReason = "reply_ready"
	ReasonExchangeFailed      StateReason = "exchange_failed"
	ReasonReplyPlayed         StateReason = "reply_played"
	ReasonReplySkipped        StateReason = "reply_skipped"
	ReasonPaused              StateReason = "paused"
	ReasonResumed             StateReason = "resumed"
	ReasonWatchdogRearm       StateReason = "watchdog_rearm"
	ReasonForcedListen        StateReason = "forced_listen"
	ReasonDeviceUnavailable   StateReason = "device_unavailable"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one immutable entry of conversation history.
type Turn struct {
	ID         string    `json:"id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Status is a read-only snapshot of the controller, refreshed after every
// processed command. It is a mirror for presentation, never an input.
type Status struct {
	ConversationID string            `json:"conversationId,omitempty"`
	State          ConversationState `json:"state"`
	Active         bool              `json:"active"`
	Listening      bool              `json:"listening"`
	Capturing      bool              `json:"capturing"`
	Processing     bool              `json:"processing"`
	Speaking       bool              `json:"speaking"`
	Rearming       bool              `json:"rearming"`
	Greeted        bool              `json:"greeted"`
	Turns          int               `json:"turns"`
	Message        string            `json:"message,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
}

// Busy reports whether some phase is running or scheduled.
func (s Status) Busy() bool {
	return s.Capturing || s.Processing || s.Speaking || s.Rearming || s.State == StateGreeting
}

// Stalled reports an active conversation where nothing is happening.
func (s Status) Stalled() bool {
	return s.Active && !s.Busy()
}

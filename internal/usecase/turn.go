package usecase

import (
	"time"

	"github.com/google/uuid"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

const (
	messageListening  = "Listening... speak now"
	messageNoAudio    = "No audio detected. Please speak louder."
	messageProcessing = "Processing your request..."
	messageSpeaking   = "Speaking..."
	messageRetry      = "I encountered an error. Please try speaking again."
	messagePaused     = "Conversation paused. Click below to continue."
)

func (c *ConversationController) startConversation() error {
	if c.session.hasGreeted {
		if c.session.state == domain.StatePaused {
			return c.resume()
		}
		return nil
	}

	c.teardown()
	if c.session.id == "" {
		c.session.id = uuid.NewString()
	}
	c.session.active = true
	c.session.hasGreeted = true
	c.session.lastError = ""

	epoch := c.epoch
	c.appendTurn(domain.SpeakerAssistant, c.cfg.Greeting)
	c.transition(domain.StateGreeting, domain.ReasonConversationStarted, "Greeting you...")

	ctx := c.runCtx
	text := c.spokenForm(c.cfg.Greeting)
	go func() {
		payload, err := c.backend.Synthesize(ctx, text)
		c.post(func() { c.onGreetingSynthesized(epoch, payload, err) })
	}()
	return nil
}

func (c *ConversationController) onGreetingSynthesized(epoch uint64, payload []byte, err error) {
	if epoch != c.epoch || c.session.state != domain.StateGreeting {
		return
	}
	if err != nil || len(payload) == 0 {
		if err != nil {
			c.fail(err)
		}
		c.toListening(domain.ReasonGreetingSkipped, c.cfg.Delays.GreetingFallback)
		return
	}
	c.beginPlayback(payload)
}

func (c *ConversationController) pause() error {
	if c.session.state == domain.StatePaused {
		return nil
	}
	c.teardown()
	c.session.active = false
	c.transition(domain.StatePaused, domain.ReasonPaused, messagePaused)
	return nil
}

func (c *ConversationController) resume() error {
	switch c.session.state {
	case domain.StateIdle:
		return ErrConversationNotStarted
	case domain.StatePaused:
	default:
		return nil
	}

	if c.session.id == "" {
		c.session.id = uuid.NewString()
	}
	c.session.active = true
	c.session.lastError = ""
	c.transition(domain.StateListening, domain.ReasonResumed, messageListening)
	c.armListening()
	return nil
}

func (c *ConversationController) forceListen() error {
	if !c.session.active || c.activeCapture != nil || c.arming || c.session.state == domain.StateProcessing {
		return ErrInvalidTransition
	}
	c.cancelRearm()
	c.stopPlayback()
	c.transition(domain.StateListening, domain.ReasonForcedListen, messageListening)
	c.armListening()
	return nil
}

func (c *ConversationController) stopListeningNow() error {
	if c.activeCapture == nil {
		return ErrInvalidTransition
	}
	c.onUtteranceEnded(c.activeCapture.id)
	return nil
}

// rearmIfStalled fills the gap when the conversation is active but no phase
// is running or scheduled.
func (c *ConversationController) rearmIfStalled(delay time.Duration) {
	if !c.snapshot().Stalled() {
		return
	}
	c.logger.Info("re-arming stalled conversation", "state", c.session.state, "delay", delay)
	c.transition(domain.StateListening, domain.ReasonWatchdogRearm, messageListening)
	c.scheduleArm(delay)
}

// toListening enters Listening and arms capture after delay.
func (c *ConversationController) toListening(reason domain.StateReason, delay time.Duration) {
	c.stopPlayback()
	message := messageListening
	switch reason {
	case domain.ReasonNoAudio:
		message = messageNoAudio
	case domain.ReasonExchangeFailed:
		message = messageRetry
	}
	c.transition(domain.StateListening, reason, message)
	c.scheduleArm(delay)
}

func (c *ConversationController) scheduleArm(delay time.Duration) {
	c.cancelRearm()
	if delay <= 0 {
		c.armListening()
		return
	}

	epoch := c.epoch
	seq := c.rearmSeq
	c.rearm = c.clock.AfterFunc(delay, func() {
		c.post(func() { c.onRearmDue(epoch, seq) })
	})
}

func (c *ConversationController) onRearmDue(epoch uint64, seq uint64) {
	if epoch != c.epoch || seq != c.rearmSeq || c.rearm == nil {
		return
	}
	c.rearm = nil
	c.armListening()
}

// armListening opens a new capture session. Device acquisition runs off the
// loop; its result comes back through onCaptureStarted. While an earlier
// acquisition is still in flight the new one waits for it to be released.
func (c *ConversationController) armListening() {
	if !c.session.active || c.activeCapture != nil || c.arming {
		return
	}
	if c.session.state == domain.StateProcessing {
		return
	}

	c.cancelRearm()
	c.stopPlayback()
	if c.session.state != domain.StateListening {
		c.session.state = domain.StateListening
	}
	c.arming = true
	if c.acquiring > 0 {
		c.armWhenReleased = true
		return
	}

	epoch := c.bumpEpoch()
	c.nextSessionID++
	id := c.nextSessionID

	ended := func() {
		c.post(func() { c.onUtteranceEnded(id) })
	}
	detector := newSilenceDetector(c.clock, c.cfg.SilenceThreshold, c.cfg.SilenceDuration, ended)
	session := newCaptureSession(id, c.recorder, c.encoder, c.meters.NewMeter(c.cfg.Audio), detector, c.cfg.Audio, c.logger, ended)
	c.acquiring++

	ctx := c.runCtx
	sampling := samplingConfig{Warmup: c.cfg.SamplingWarmup, Interval: c.cfg.SampleInterval}
	go func() {
		err := session.start(ctx, c.cfg.ChunkSize, sampling)
		c.post(func() { c.onCaptureStarted(epoch, session, err) })
	}()
}

func (c *ConversationController) onCaptureStarted(epoch uint64, session *captureSession, err error) {
	c.acquiring--
	if epoch != c.epoch || !c.session.active {
		if err == nil {
			session.discard()
		}
		if c.armWhenReleased && c.acquiring == 0 {
			c.armWhenReleased = false
			c.arming = false
			c.armListening()
		}
		return
	}
	c.arming = false

	if err != nil {
		// Without an input device there is no way to continue; the user has
		// to fix permissions and resume.
		c.fail(err)
		c.teardown()
		c.session.active = false
		c.transition(domain.StatePaused, domain.ReasonDeviceUnavailable, domain.MessageOf(err))
		return
	}

	c.activeCapture = session
	c.transition(domain.StateListening, domain.ReasonListeningStarted, messageListening)
	if session.deviceEnded() {
		c.onUtteranceEnded(session.id)
	}
}

func (c *ConversationController) onUtteranceEnded(id uint64) {
	capture := c.activeCapture
	if capture == nil || capture.id != id || c.session.state != domain.StateListening {
		return
	}
	c.activeCapture = nil

	utterance, err := capture.stop()
	if err != nil {
		c.logger.Warn("failed to encode utterance", "capture", id, "error", err)
		utterance = ports.Utterance{}
	}
	if utterance.Empty() {
		c.session.lastError = domain.MessageOf(domain.NewError(domain.ErrorKindEmptyCapture, messageNoAudio, nil))
		c.events.Notice(messageNoAudio)
		c.toListening(domain.ReasonNoAudio, c.cfg.Delays.EmptyCapture)
		return
	}
	c.beginProcessing(utterance)
}

func (c *ConversationController) beginProcessing(utterance ports.Utterance) {
	epoch := c.bumpEpoch()
	c.transition(domain.StateProcessing, domain.ReasonUtteranceCaptured, messageProcessing)

	c.haltFiller()
	c.stopFiller = startFiller(c.clock, c.cfg.FillerInterval, c.cfg.FillerPhrases, func(phrase string) {
		c.post(func() {
			if epoch != c.epoch || c.session.state != domain.StateProcessing {
				return
			}
			c.message = phrase
			c.events.Notice(phrase)
		})
	})

	ctx := c.runCtx
	go func() {
		exchange, err := c.backend.Understand(ctx, utterance)
		c.post(func() { c.onExchangeDone(epoch, exchange, err) })
	}()
}

func (c *ConversationController) onExchangeDone(epoch uint64, exchange ports.Exchange, err error) {
	if epoch != c.epoch || c.session.state != domain.StateProcessing {
		return
	}
	c.haltFiller()

	if err != nil {
		c.fail(err)
		c.toListening(domain.ReasonExchangeFailed, c.cfg.Delays.ExchangeFailure)
		return
	}

	c.session.lastError = ""
	c.appendTurn(domain.SpeakerUser, exchange.Transcript)
	c.appendTurn(domain.SpeakerAssistant, exchange.ReplyText)

	epoch = c.bumpEpoch()
	c.transition(domain.StateSpeaking, domain.ReasonReplyReady, exchange.ReplyText)

	ctx := c.runCtx
	text := c.spokenForm(exchange.ReplyText)
	go func() {
		payload, err := c.backend.Synthesize(ctx, text)
		c.post(func() { c.onReplySynthesized(epoch, payload, err) })
	}()
}

func (c *ConversationController) onReplySynthesized(epoch uint64, payload []byte, err error) {
	if epoch != c.epoch || c.session.state != domain.StateSpeaking {
		return
	}
	if err != nil || len(payload) == 0 {
		if err != nil {
			c.fail(err)
		}
		c.toListening(domain.ReasonReplySkipped, c.cfg.Delays.AfterSkippedReply)
		return
	}
	c.message = messageSpeaking
	c.beginPlayback(payload)
}

// beginPlayback replaces any running playback; the last request wins.
func (c *ConversationController) beginPlayback(payload []byte) {
	c.stopPlayback()
	c.nextSessionID++
	id := c.nextSessionID

	session, err := startPlayback(c.runCtx, c.player, id, payload, func(id uint64, outcome playbackOutcome, err error) {
		c.post(func() { c.onPlaybackFinished(id, outcome, err) })
	})
	if err != nil {
		c.finishPhaseAfterPlayback(playbackFailed, err)
		return
	}
	c.activePlayback = session
	c.publishStatus()
}

func (c *ConversationController) stopPlayback() {
	if c.activePlayback == nil {
		return
	}
	c.activePlayback.stop()
	c.activePlayback = nil
}

func (c *ConversationController) onPlaybackFinished(id uint64, outcome playbackOutcome, err error) {
	if c.activePlayback == nil || c.activePlayback.id != id {
		return
	}
	c.activePlayback = nil
	if outcome == playbackStopped {
		return
	}
	c.finishPhaseAfterPlayback(outcome, err)
}

func (c *ConversationController) finishPhaseAfterPlayback(outcome playbackOutcome, err error) {
	failed := outcome == playbackFailed
	if failed && err != nil {
		c.logger.Warn("playback failed", "state", c.session.state, "error", err)
	}

	switch c.session.state {
	case domain.StateGreeting:
		if failed {
			c.toListening(domain.ReasonGreetingSkipped, c.cfg.Delays.GreetingFallback)
			return
		}
		c.toListening(domain.ReasonGreetingPlayed, c.cfg.Delays.AfterPlayback)
	case domain.StateSpeaking:
		if failed {
			c.toListening(domain.ReasonReplySkipped, c.cfg.Delays.AfterSkippedReply)
			return
		}
		c.toListening(domain.ReasonReplyPlayed, c.cfg.Delays.AfterPlayback)
	}
}

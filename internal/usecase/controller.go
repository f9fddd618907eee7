package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"voiceloop/internal/domain"
	"voiceloop/internal/ports"
)

var (
	ErrInvalidTransition      = errors.New("command is not valid in the current conversation state")
	ErrConversationNotStarted = errors.New("conversation has not been started")
	ErrControllerStopped      = errors.New("conversation controller is not running")
)

const (
	captureSampleRate = 44100
	captureChannels   = 1
)

// captureConstraints is fixed policy; it is not user-configurable.
var captureConstraints = ports.CaptureConstraints{
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  false,
}

// Delays are the pauses before listening is re-armed after each terminal event.
type Delays struct {
	GreetingFallback  time.Duration
	AfterPlayback     time.Duration
	AfterSkippedReply time.Duration
	EmptyCapture      time.Duration
	ExchangeFailure   time.Duration
}

// Config controls conversation behaviour.
type Config struct {
	Audio            ports.AudioConfig
	Greeting         string
	SilenceThreshold float64
	SilenceDuration  time.Duration
	SampleInterval   time.Duration
	SamplingWarmup   time.Duration
	ChunkSize        int
	Delays           Delays
	FillerInterval   time.Duration
	FillerPhrases    []string

	Clock  clockwork.Clock
	Logger *slog.Logger
}

const defaultGreeting = "Hello! I'm your medical assistant. I can help you find patient information. What would you like to know?"

func (cfg Config) withDefaults() Config {
	cfg.Audio.SampleRate = captureSampleRate
	cfg.Audio.Channels = captureChannels
	cfg.Audio.Constraints = captureConstraints

	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 25
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = time.Second
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 16 * time.Millisecond
	}
	if cfg.SamplingWarmup < 0 {
		cfg.SamplingWarmup = 0
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.Delays.GreetingFallback <= 0 {
		cfg.Delays.GreetingFallback = 2 * time.Second
	}
	if cfg.Delays.AfterPlayback <= 0 {
		cfg.Delays.AfterPlayback = 800 * time.Millisecond
	}
	if cfg.Delays.AfterSkippedReply <= 0 {
		cfg.Delays.AfterSkippedReply = 1800 * time.Millisecond
	}
	if cfg.Delays.EmptyCapture <= 0 {
		cfg.Delays.EmptyCapture = 3 * time.Second
	}
	if cfg.Delays.ExchangeFailure <= 0 {
		cfg.Delays.ExchangeFailure = 5 * time.Second
	}
	if cfg.FillerInterval <= 0 {
		cfg.FillerInterval = 2 * time.Second
	}
	if cfg.FillerPhrases == nil {
		cfg.FillerPhrases = DefaultFillerPhrases
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// conversationSession is the authoritative conversation state. It is only
// touched from the controller loop.
type conversationSession struct {
	id         string
	state      domain.ConversationState
	active     bool
	history    history
	hasGreeted bool
	lastError  string
}

// ConversationController is the conversation state machine. Every command
// and completion signal is a closure processed one at a time by Run, so
// transition guards never race.
type ConversationController struct {
	recorder ports.AudioCapture
	meters   ports.MeterFactory
	encoder  ports.UtteranceEncoder
	player   ports.AudioPlayer
	backend  ports.Backend
	spoken   ports.TextRewriter
	events   ports.EventSink
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger

	inbox   chan func()
	done    chan struct{}
	runOnce sync.Once

	// Owned by the loop goroutine.
	runCtx        context.Context
	session       conversationSession
	epoch         uint64
	nextSessionID uint64
	arming        bool
	// acquiring counts device acquisitions still in flight, stale ones included.
	acquiring       int
	armWhenReleased bool
	activeCapture   *captureSession
	activePlayback  *playbackSession
	rearm           clockwork.Timer
	rearmSeq        uint64
	stopFiller      func()
	message         string

	statusMu sync.RWMutex
	status   domain.Status
	turns    []domain.Turn
}

func NewConversationController(
	recorder ports.AudioCapture,
	meters ports.MeterFactory,
	encoder ports.UtteranceEncoder,
	player ports.AudioPlayer,
	backend ports.Backend,
	spoken ports.TextRewriter,
	events ports.EventSink,
	cfg Config,
) *ConversationController {
	cfg = cfg.withDefaults()
	c := &ConversationController{
		recorder: recorder,
		meters:   meters,
		encoder:  encoder,
		player:   player,
		backend:  backend,
		spoken:   spoken,
		events:   events,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
		session:  conversationSession{state: domain.StateIdle},
	}
	c.status = c.snapshot()
	return c
}

// Run processes commands until ctx is cancelled, then tears down any live
// session. It may only be called once.
func (c *ConversationController) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("conversation controller already running")
	}
	defer close(c.done)

	c.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.session.active = false
			c.publishStatus()
			return ctx.Err()
		case fn := <-c.inbox:
			fn()
			c.publishStatus()
		}
	}
}

// StartConversation greets the user on the first call; afterwards it
// behaves like ResumeConversation.
func (c *ConversationController) StartConversation(ctx context.Context) (domain.Status, error) {
	return c.submit(ctx, c.startConversation)
}

// PauseConversation tears down whichever session is live. Idempotent.
func (c *ConversationController) PauseConversation(ctx context.Context) (domain.Status, error) {
	return c.submit(ctx, c.pause)
}

// ResumeConversation re-arms listening without replaying the greeting.
func (c *ConversationController) ResumeConversation(ctx context.Context) (domain.Status, error) {
	return c.submit(ctx, c.resume)
}

// StopListeningNow ends the current utterance immediately, as if silence
// had been detected.
func (c *ConversationController) StopListeningNow(ctx context.Context) (domain.Status, error) {
	return c.submit(ctx, c.stopListeningNow)
}

// ForceListenNow arms listening immediately when the conversation is
// active and neither capturing nor processing.
func (c *ConversationController) ForceListenNow(ctx context.Context) (domain.Status, error) {
	return c.submit(ctx, c.forceListen)
}

// RearmListening schedules listening after delay if the conversation is
// active with no phase running or pending. Otherwise it is a no-op.
func (c *ConversationController) RearmListening(ctx context.Context, delay time.Duration) error {
	_, err := c.submit(ctx, func() error {
		c.rearmIfStalled(delay)
		return nil
	})
	return err
}

// Status returns the latest published snapshot.
func (c *ConversationController) Status() domain.Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// History returns a copy of the conversation turns.
func (c *ConversationController) History() []domain.Turn {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	out := make([]domain.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

type commandResult struct {
	status domain.Status
	err    error
}

func (c *ConversationController) submit(ctx context.Context, command func() error) (domain.Status, error) {
	reply := make(chan commandResult, 1)
	task := func() {
		err := command()
		c.publishStatus()
		reply <- commandResult{status: c.snapshot(), err: err}
	}

	select {
	case c.inbox <- task:
	case <-c.done:
		return c.Status(), ErrControllerStopped
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}

	select {
	case result := <-reply:
		return result.status, result.err
	case <-c.done:
		return c.Status(), ErrControllerStopped
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
}

// post queues a completion signal from a background goroutine.
func (c *ConversationController) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

func (c *ConversationController) snapshot() domain.Status {
	s := c.session
	return domain.Status{
		ConversationID: s.id,
		State:          s.state,
		Active:         s.active,
		Listening:      s.state == domain.StateListening,
		Capturing:      c.activeCapture != nil || c.arming,
		Processing:     s.state == domain.StateProcessing,
		Speaking:       s.state == domain.StateSpeaking || c.activePlayback != nil,
		Rearming:       c.rearm != nil,
		Greeted:        s.hasGreeted,
		Turns:          s.history.len(),
		Message:        c.message,
		LastError:      s.lastError,
	}
}

func (c *ConversationController) publishStatus() {
	status := c.snapshot()
	turns := c.session.history.view()

	c.statusMu.Lock()
	c.status = status
	c.turns = turns
	c.statusMu.Unlock()
}

func (c *ConversationController) transition(state domain.ConversationState, reason domain.StateReason, message string) {
	from := c.session.state
	c.session.state = state
	if message != "" {
		c.message = message
	}
	c.publishStatus()

	c.logger.Debug("conversation transition", "from", from, "state", state, "reason", reason, "epoch", c.epoch)
	c.events.StateChanged(c.snapshot(), reason)
}

// bumpEpoch invalidates every completion signal issued for the previous phase.
func (c *ConversationController) bumpEpoch() uint64 {
	c.epoch++
	return c.epoch
}

func (c *ConversationController) fail(err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.ErrorKindNetwork
	}
	message := domain.MessageOf(err)
	c.session.lastError = message
	if domain.Recoverable(err) {
		c.logger.Warn("conversation error", "kind", kind, "error", err)
	} else {
		c.logger.Error("conversation error", "kind", kind, "error", err)
	}
	c.events.SessionError(kind, message)
}

func (c *ConversationController) appendTurn(speaker domain.Speaker, text string) {
	turn := c.session.history.append(speaker, text, c.clock.Now())
	c.publishStatus()
	c.events.TurnAppended(turn)
}

func (c *ConversationController) spokenForm(text string) string {
	if c.spoken == nil {
		return text
	}
	rewritten, err := c.spoken.Apply(text)
	if err != nil {
		c.logger.Warn("spoken-form rewrite failed; using original text", "error", err)
		return text
	}
	return rewritten
}

// teardown stops every live session and pending timer.
func (c *ConversationController) teardown() {
	c.cancelRearm()
	c.haltFiller()
	if c.activePlayback != nil {
		c.activePlayback.stop()
		c.activePlayback = nil
	}
	if c.activeCapture != nil {
		c.activeCapture.discard()
		c.activeCapture = nil
	}
	c.arming = false
	c.armWhenReleased = false
	c.bumpEpoch()
}

func (c *ConversationController) haltFiller() {
	if c.stopFiller != nil {
		c.stopFiller()
		c.stopFiller = nil
	}
}

func (c *ConversationController) cancelRearm() {
	if c.rearm != nil {
		c.rearm.Stop()
		c.rearm = nil
	}
	c.rearmSeq++
}

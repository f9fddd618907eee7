package bootstrap

import (
	"context"
	"log/slog"

	"voiceloop/internal/audio"
	"voiceloop/internal/backend"
	"voiceloop/internal/bus"
	"voiceloop/internal/config"
	"voiceloop/internal/domain"
	"voiceloop/internal/lexicon"
	"voiceloop/internal/ports"
	"voiceloop/internal/remote"
	"voiceloop/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.ConversationController
	Watchdog   *usecase.ContinuityWatchdog
	Backend    *backend.Client
	Remote     *remote.Server
	Bus        *bus.Publisher
	Config     config.Config
}

// Close releases connections owned by the graph.
func (s Services) Close() {
	if s.Bus != nil {
		s.Bus.Close()
	}
}

// Build wires all runtime dependencies. eventSink is the primary UI mirror;
// the control surface hub and the event bus are added when configured.
func Build(eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	spoken, err := lexicon.Load(lexicon.Options{
		Path:      cfg.Lexicon.Path,
		Defaults:  cfg.Lexicon.Defaults,
		PassLimit: cfg.Lexicon.PassLimit,
	})
	if err != nil {
		return Services{}, err
	}

	client := backend.NewClient(backend.Config{
		BaseURL:           cfg.Backend.BaseURL,
		HealthPath:        cfg.Backend.HealthPath,
		SynthesizePath:    cfg.Backend.SynthesizePath,
		UnderstandPath:    cfg.Backend.UnderstandPath,
		HealthTimeout:     cfg.Backend.HealthTimeout,
		SynthesizeTimeout: cfg.Backend.SynthesizeTimeout,
		UnderstandTimeout: cfg.Backend.UnderstandTimeout,
	}, nil)

	sinks := fanout{}
	if eventSink != nil {
		sinks = append(sinks, eventSink)
	}

	var (
		hub     *remote.Hub
		metrics *remote.Metrics
	)
	if cfg.Control.Addr != "" {
		hub = remote.NewHub(logger)
		metrics = remote.NewMetrics("voiceloop")
		sinks = append(sinks, hub, metrics)
	}

	var publisher *bus.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = bus.Connect(cfg.Events.NATSURL, cfg.Events.NATSToken, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return Services{}, err
		}
		sinks = append(sinks, publisher)
	}

	controller := usecase.NewConversationController(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, cfg.Audio.EchoCancelSource),
		audio.SpectrumMeters{Config: audio.DefaultSpectrumConfig()},
		audio.WAVEncoder{},
		audio.NewFFPlayPlayer(cfg.Audio.PlayerCommand),
		client,
		spoken,
		sinks,
		usecase.Config{
			Audio: ports.AudioConfig{
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Greeting:         cfg.Conversation.Greeting,
			SilenceThreshold: cfg.Silence.Threshold,
			SilenceDuration:  cfg.Silence.Duration,
			SampleInterval:   cfg.Silence.SampleInterval,
			SamplingWarmup:   cfg.Silence.Warmup,
			ChunkSize:        cfg.Audio.ChunkSize,
			Delays: usecase.Delays{
				GreetingFallback:  cfg.Conversation.GreetingFallback,
				AfterPlayback:     cfg.Conversation.AfterPlayback,
				AfterSkippedReply: cfg.Conversation.AfterSkippedReply,
				EmptyCapture:      cfg.Conversation.EmptyCapture,
				ExchangeFailure:   cfg.Conversation.ExchangeFailure,
			},
			FillerInterval: cfg.Conversation.FillerInterval,
			Logger:         logger,
		},
	)

	services := Services{
		Controller: controller,
		Watchdog: usecase.NewContinuityWatchdog(
			controller,
			nil,
			cfg.Conversation.WatchdogPeriod,
			cfg.Conversation.WatchdogDelay,
			logger,
		),
		Backend: client,
		Bus:     publisher,
		Config:  cfg,
	}
	if hub != nil {
		services.Remote = remote.NewServer(cfg.Control.Addr, controller, hub, logger).WithMetrics(metrics)
	}
	return services, nil
}

// CheckBackend runs the advisory startup health check. A failure is reported
// to sink and returned; it never blocks the conversation.
func CheckBackend(ctx context.Context, client ports.Backend, sink ports.EventSink, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := client.Health(ctx); err != nil {
		logger.Warn("backend health check failed", "error", err)
		if sink != nil {
			sink.SessionError(domainKind(err), domain.MessageOf(err))
		}
		return err
	}
	logger.Info("backend reachable")
	return nil
}

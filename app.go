package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voiceloop/internal/bootstrap"
	"voiceloop/internal/domain"
)

const (
	eventState  = "voiceloop:state"
	eventTurn   = "voiceloop:turn"
	eventNotice = "voiceloop:notice"
	eventError  = "voiceloop:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	services bootstrap.Services
	bootErr  error
	ready    bool
}

func NewApp() *App {
	return &App{logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a.logger)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorKindStartup, err.Error())
		return
	}
	a.services = services
	a.ready = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := services.Controller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("conversation controller stopped", "error", err)
		}
	}()
	go services.Watchdog.Run(runCtx)
	go func() {
		_ = bootstrap.CheckBackend(runCtx, services.Backend, a, a.logger)
	}()
	if services.Remote != nil {
		go func() {
			if err := services.Remote.Run(runCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("control server stopped", "error", err)
			}
		}()
	}

	a.StateChanged(services.Controller.Status(), "")
}

func (a *App) shutdown(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.services.Close()
}

// StartConversation greets the user and begins the hands-free loop.
func (a *App) StartConversation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.StartConversation(a.ctx)
}

// PauseConversation stops listening and playback until resumed.
func (a *App) PauseConversation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.PauseConversation(a.ctx)
}

// ResumeConversation goes straight back to listening.
func (a *App) ResumeConversation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.ResumeConversation(a.ctx)
}

// StopListeningNow submits the current utterance without waiting for silence.
func (a *App) StopListeningNow() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.StopListeningNow(a.ctx)
}

// ForceListenNow interrupts playback and starts listening immediately.
func (a *App) ForceListenNow() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.ForceListenNow(a.ctx)
}

// GetStatus returns the current conversation status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateIdle, Message: errorTitle(domain.ErrorKindStartup), LastError: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateIdle}
	}
	return a.services.Controller.Status()
}

// GetHistory returns the conversation turns in order.
func (a *App) GetHistory() []domain.Turn {
	if !a.ready {
		return []domain.Turn{}
	}
	return a.services.Controller.History()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"backend":          a.services.Backend.BaseURL(),
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"lexiconFile":      cfg.Lexicon.Path,
		"silenceThreshold": fmt.Sprintf("%g", cfg.Silence.Threshold),
		"silenceDuration":  cfg.Silence.Duration.Round(time.Millisecond).String(),
	}
	if cfg.Control.Addr != "" {
		info["controlAddr"] = cfg.Control.Addr
	}
	if cfg.Events.NATSURL != "" {
		info["eventSubjects"] = cfg.Events.SubjectPrefix + ".*"
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged mirrors conversation state to the frontend.
func (a *App) StateChanged(status domain.Status, reason domain.StateReason) {
	a.emit(eventState, domain.StateEvent(time.Now(), status, reason))
}

// TurnAppended mirrors new history entries.
func (a *App) TurnAppended(turn domain.Turn) {
	a.emit(eventTurn, domain.TurnEvent(time.Now(), turn))
}

// Notice shows a transient status line.
func (a *App) Notice(message string) {
	a.emit(eventNotice, domain.NoticeEvent(time.Now(), message))
}

// SessionError emits errors to the UI.
func (a *App) SessionError(kind domain.ErrorKind, detail string) {
	event := domain.ErrorEvent(time.Now(), kind, detail)
	if event.Message == "" {
		event.Message = errorTitle(kind)
	}
	a.emit(eventError, event)
}

func (a *App) emit(name string, event domain.Event) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, event)
}

func errorTitle(kind domain.ErrorKind) string {
	switch kind {
	case domain.ErrorKindStartup:
		return "Startup failed"
	case domain.ErrorKindDevice:
		return "Microphone unavailable"
	case domain.ErrorKindEmptyCapture:
		return "No audio detected"
	case domain.ErrorKindSynthesis:
		return "Speech synthesis failed"
	case domain.ErrorKindNetwork:
		return "Backend unreachable"
	case domain.ErrorKindServer:
		return "Backend error"
	case domain.ErrorKindTimeout:
		return "Request timed out"
	default:
		return "Unknown error"
	}
}

// Package remote exposes the conversation controller over HTTP and streams
// its events over a websocket.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"voiceloop/internal/domain"
	"voiceloop/internal/usecase"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Conversation is the controller surface exposed remotely.
type Conversation interface {
	StartConversation(ctx context.Context) (domain.Status, error)
	PauseConversation(ctx context.Context) (domain.Status, error)
	ResumeConversation(ctx context.Context) (domain.Status, error)
	StopListeningNow(ctx context.Context) (domain.Status, error)
	ForceListenNow(ctx context.Context) (domain.Status, error)
	Status() domain.Status
	History() []domain.Turn
}

type Server struct {
	addr         string
	router       *chi.Mux
	conversation Conversation
	hub          *Hub
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

func NewServer(addr string, conversation Conversation, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		addr:         addr,
		router:       router,
		conversation: conversation,
		hub:          hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface is meant for a local companion UI.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/status", s.status)
	router.Get("/history", s.history)
	router.Get("/events", s.events)
	router.Route("/conversation", func(r chi.Router) {
		r.Post("/start", s.command(conversation.StartConversation))
		r.Post("/pause", s.command(conversation.PauseConversation))
		r.Post("/resume", s.command(conversation.ResumeConversation))
		r.Post("/stop-listening", s.command(conversation.StopListeningNow))
		r.Post("/force-listen", s.command(conversation.ForceListenNow))
	})

	return s
}

// WithMetrics mounts the Prometheus registry at /metrics.
func (s *Server) WithMetrics(metrics *Metrics) *Server {
	if metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the event hub feeding /events.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control server starting", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.conversation.Status())
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"turns": s.conversation.History()})
}

type commandResponse struct {
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) command(run func(context.Context) (domain.Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := run(r.Context())
		if err != nil {
			writeJSON(w, commandStatusCode(err), commandResponse{Status: status, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{Status: status})
	}
}

func commandStatusCode(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidTransition), errors.Is(err, usecase.ErrConversationNotStarted):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrControllerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := s.hub.register(conn)
	go s.writePump(c)
	go s.readPump(c)

	// New subscribers get the current snapshot first.
	s.hub.sendTo(c, domain.StateEvent(s.hub.now(), s.conversation.Status(), ""))
}

// readPump only services control frames; subscribers never send commands
// over the socket.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

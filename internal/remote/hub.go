package remote

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voiceloop/internal/domain"
)

const clientBuffer = 32

// client is one websocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans conversation events out to websocket subscribers. It implements
// ports.EventSink and never blocks the caller: a subscriber whose buffer is
// full is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	now     func() time.Time
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*client), now: time.Now, logger: logger}
}

func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", "client", c.id)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	h.mu.Unlock()
	h.logger.Debug("event subscriber disconnected", "client", c.id)
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode event", "type", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping slow event subscriber", "client", id)
			delete(h.clients, id)
			c.close()
		}
	}
}

func (h *Hub) sendTo(c *client, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) StateChanged(status domain.Status, reason domain.StateReason) {
	h.broadcast(domain.StateEvent(h.now(), status, reason))
}

func (h *Hub) TurnAppended(turn domain.Turn) {
	h.broadcast(domain.TurnEvent(h.now(), turn))
}

func (h *Hub) Notice(message string) {
	h.broadcast(domain.NoticeEvent(h.now(), message))
}

func (h *Hub) SessionError(kind domain.ErrorKind, detail string) {
	h.broadcast(domain.ErrorEvent(h.now(), kind, detail))
}

// Package bus mirrors conversation events onto NATS subjects.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"voiceloop/internal/domain"
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher implements ports.EventSink by publishing each event as JSON to
// <prefix>.<type>. Publish failures are logged, never returned, so a broker
// outage cannot stall the conversation.
type Publisher struct {
	conn   Conn
	closer func()
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Connect dials NATS with reconnect enabled and returns a publisher.
func Connect(url, token, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("voiceloop"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	publisher := NewPublisher(nc, prefix, logger)
	publisher.closer = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return publisher, nil
}

func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "voiceloop.conversation"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, now: time.Now, logger: logger}
}

// Subject returns the subject used for events of type t.
func (p *Publisher) Subject(t domain.EventType) string {
	return p.prefix + "." + string(t)
}

func (p *Publisher) publish(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode event", "type", event.Type, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(event.Type), payload); err != nil {
		p.logger.Warn("failed to publish event", "subject", p.Subject(event.Type), "error", err)
	}
}

func (p *Publisher) StateChanged(status domain.Status, reason domain.StateReason) {
	p.publish(domain.StateEvent(p.now(), status, reason))
}

func (p *Publisher) TurnAppended(turn domain.Turn) {
	p.publish(domain.TurnEvent(p.now(), turn))
}

func (p *Publisher) Notice(message string) {
	p.publish(domain.NoticeEvent(p.now(), message))
}

func (p *Publisher) SessionError(kind domain.ErrorKind, detail string) {
	p.publish(domain.ErrorEvent(p.now(), kind, detail))
}

// Close drains the underlying connection when the publisher owns it.
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

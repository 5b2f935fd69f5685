package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events as JSON on NATS subjects
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to url. Subjects are "<prefix>.chunk.stored" and
// "<prefix>.session.status".
func NewNATSPublisher(url, token, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("chunkrec"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
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

	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the full subject for a suffix
func (p *NATSPublisher) Subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

// PublishChunkStored implements Publisher
func (p *NATSPublisher) PublishChunkStored(_ context.Context, ev ChunkStored) error {
	return p.publish(p.Subject(SubjectChunkStored), ev)
}

// PublishSessionStatus implements Publisher
func (p *NATSPublisher) PublishSessionStatus(_ context.Context, ev SessionStatus) error {
	return p.publish(p.Subject(SubjectSessionStatus), ev)
}

func (p *NATSPublisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers raw messages for subject to handler. The returned function unsubscribes.
func (p *NATSPublisher) Subscribe(subject string, handler func(subject string, data []byte)) (func(), error) {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.logger.Info("subscribed", slog.String("subject", subject))
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Package messaging provides a NATS publisher for session lifecycle events
// so other services can observe the gateway without polling. It handles
// connection lifecycle and subject naming.
package messaging

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects published by the gateway.
const (
	// SubjectSessionEvents is the firehose subject; per-session events are
	// additionally published on SubjectSessionEvents + ".<session_id>".
	SubjectSessionEvents = "wa.session.events"
)

// NATSPublisher wraps the NATS connection for outbound event publishing.
type NATSPublisher struct {
	conn *nats.Conn
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "wa-gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSPublisher connects to NATS with the given config and returns a
// ready publisher. It returns an error if the initial connection fails.
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSPublisher{conn: nc}, nil
}

// PublishSessionEvent publishes an event to the firehose subject and to the
// per-session subject.
func (p *NATSPublisher) PublishSessionEvent(sessionID string, data []byte) error {
	if err := p.conn.Publish(SubjectSessionEvents, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", SubjectSessionEvents, err)
	}
	subject := SubjectSessionEvents + "." + sessionID
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}

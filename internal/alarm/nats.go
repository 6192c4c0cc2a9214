package alarm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject alarms are published on.
const DefaultSubject = "tailwatch.alarms"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes alarms as JSON messages.
type NATSSink struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNATSSink connects to url and publishes on subject.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("tailwatch"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{conn: conn, pub: conn, subject: subject}, nil
}

// Emit implements Sink.
func (s *NATSSink) Emit(_ context.Context, a Alarm) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alarm: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish alarm %s: %w", a.ID, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		_ = s.conn.Drain()
		s.conn.Close()
	}
}

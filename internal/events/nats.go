package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/naturalspeech/naturalspeech/tts"
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body published for every event.
type Envelope struct {
	Topic string    `json:"topic"`
	Time  time.Time `json:"time"`
	Event tts.Event `json:"event"`
}

// NATSSink publishes events as JSON on "<subject>.<topic>".
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *log.Logger
	now     func() time.Time
}

// NewNATSSink publishes through pub.
func NewNATSSink(pub Publisher, subject string, logger *log.Logger) *NATSSink {
	if logger == nil {
		logger = log.Default().WithPrefix("nats")
	}
	return &NATSSink{pub: pub, subject: subject, logger: logger, now: time.Now}
}

// DialNATS connects to the servers in url and returns a sink publishing on
// subject.
func DialNATS(url, subject string, logger *log.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("naturalspeech"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	s := NewNATSSink(conn, subject, logger)
	s.conn = conn
	s.logger.Info("Connected to NATS", "url", conn.ConnectedUrl(), "subject", subject)
	return s, nil
}

// Post implements tts.EventSink.
func (s *NATSSink) Post(e tts.Event) {
	data, err := json.Marshal(Envelope{Topic: e.Topic(), Time: s.now(), Event: e})
	if err != nil {
		s.logger.Error("Cannot encode event", "event", e, "err", err)
		return
	}
	subject := s.subject + "." + e.Topic()
	if err := s.pub.Publish(subject, data); err != nil {
		s.logger.Warn("Failed to publish event", "subject", subject, "err", err)
	}
}

// Handler returns a bus Handler forwarding to the sink.
func (s *NATSSink) Handler() Handler {
	return s.Post
}

// Close drains the connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

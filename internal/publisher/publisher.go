package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/internal/metrics"
	"github.com/Checker-Finance/amocrm-adapter/pkg/model"
)

// EnvelopeVersion is stamped on every published envelope.
const EnvelopeVersion = "1.0.0"

// JetStreamPublisher is the subset of nats.JetStreamContext the publisher uses.
type JetStreamPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher emits CRM events as canonical envelopes on JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      JetStreamPublisher
	prefix  string
	service string
	logger  *zap.Logger
}

// New creates a Publisher on top of a NATS connection with JetStream enabled.
func New(nc *nats.Conn, prefix, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithJetStream(js, prefix, service, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream creates a Publisher over an existing JetStream handle.
func NewWithJetStream(js JetStreamPublisher, prefix, service string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		js:      js,
		prefix:  prefix,
		service: service,
		logger:  logger,
	}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish wraps payload in an Envelope and publishes it on {prefix}.{eventType}.
func (p *Publisher) Publish(_ context.Context, eventType string, payload any) error {
	subject := p.Subject(eventType)

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncNATSMessage(subject, "marshal_failed")
		return err
	}
	env := model.Envelope{
		ID:        uuid.New(),
		EventType: eventType,
		Source:    p.service,
		Version:   EnvelopeVersion,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		metrics.IncNATSMessage(subject, "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    body,
		Header: nats.Header{
			"event_type":   []string{eventType},
			"event_id":     []string{env.ID.String()},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}
	// JetStream dedupes on Nats-Msg-Id within its duplicate window.
	msg.Header.Set(nats.MsgIdHdr, env.ID.String())

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		metrics.IncNATSPublishError(subject)
		return err
	}

	p.logger.Info("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", eventType),
		zap.String("event_id", env.ID.String()))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// HealthCheck reports whether the underlying connection is usable.
func (p *Publisher) HealthCheck() error {
	if p.nc == nil || !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return p.nc.FlushTimeout(time.Second)
}

// Drain flushes pending messages and closes the connection.
func (p *Publisher) Drain() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

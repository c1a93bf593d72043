package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/pkg/logger"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

// msgPublisher is the part of nats.JetStreamContext the publisher uses.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes negotiation events to
// JetStream under <prefix>.<event type>, e.g. evt.negotiation.bid.accepted.
type Publisher struct {
	nc      *nats.Conn
	js      msgPublisher
	prefix  string
	service string
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, prefix, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		prefix:  prefix,
		service: service,
	}, nil
}

// Subject returns the subject an event of type t is published on.
func (p *Publisher) Subject(t model.EventType) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

// PublishEvent serializes ev and publishes it. The event id doubles as the
// JetStream de-duplication id.
func (p *Publisher) PublishEvent(ctx context.Context, ev model.NegotiationEvent) error {
	subject := p.Subject(ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", ev.Type,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			nats.MsgIdHdr:  []string{ev.ID.String()},
			"event_type":   []string{string(ev.Type)},
			"rfq_id":       []string{ev.RFQID},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}
	if ev.BidID != "" {
		msg.Header.Set("bid_id", ev.BidID)
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", ev.Type,
			"rfq_id", ev.RFQID,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", ev.Type,
		"rfq_id", ev.RFQID,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// Handle is an event bus handler. Failures are already logged and counted.
func (p *Publisher) Handle(ctx context.Context, ev model.NegotiationEvent) {
	_ = p.PublishEvent(ctx, ev)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}

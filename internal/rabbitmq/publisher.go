package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/internal/metrics"
	"github.com/Checker-Finance/negotiation/pkg/eventbus"
	"github.com/Checker-Finance/negotiation/pkg/model"
)

const (
	// Exchange is the topic exchange notification relays bind to.
	Exchange = "negotiation.notifications"
)

// DefaultTopics are the events buyers and vendors are told about.
var DefaultTopics = []string{
	string(model.EventBidSubmitted),
	string(model.EventBidRevised),
	string(model.EventBidAccepted),
	string(model.EventBidRejected),
	string(model.EventBidExpired),
	string(model.EventRFQExpired),
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher relays negotiation events from the bus to RabbitMQ, where the
// email and chat notification workers consume them. Routing keys are the
// event types.
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	topics  []string
	logger  *zap.Logger
}

// NewPublisher dials url, declares the exchange and subscribes to bus for
// topics, or DefaultTopics when topics is empty.
func NewPublisher(url string, bus *eventbus.Bus[model.NegotiationEvent], topics []string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	if len(topics) > 0 {
		p.topics = topics
	}
	p.Subscribe(bus)
	return p, nil
}

func newPublisher(ch channel, logger *zap.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}
	return &Publisher{channel: ch, topics: DefaultTopics, logger: logger}, nil
}

// Subscribe registers the relay for every notification topic.
func (p *Publisher) Subscribe(bus *eventbus.Bus[model.NegotiationEvent]) {
	for _, topic := range p.topics {
		bus.Subscribe(topic, func(ctx context.Context, ev model.NegotiationEvent) {
			_ = p.Publish(ctx, ev)
		})
	}
}

// Publish sends one event to the exchange.
func (p *Publisher) Publish(ctx context.Context, ev model.NegotiationEvent) error {
	if ev.RFQID == "" {
		p.logger.Error("rabbitmq.publish_skipped", zap.String("reason", "missing rfq id"), zap.String("event_type", string(ev.Type)))
		return fmt.Errorf("event %s has no rfq id", ev.ID)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.Error(err))
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	}
	if ev.Type == model.EventBidAccepted {
		msg.Priority = 10
	}

	if err := p.channel.PublishWithContext(ctx, Exchange, string(ev.Type), false, false, msg); err != nil {
		metrics.IncError("rabbitmq", "publish_failed")
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("rfq_id", ev.RFQID),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("rabbitmq.published",
		zap.String("event_type", string(ev.Type)),
		zap.String("rfq_id", ev.RFQID),
	)
	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

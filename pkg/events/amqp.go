package events

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPPublisher publishes each event type to a durable queue of the same
// name through the default exchange. The connection is dialled lazily and
// re-dialled after it closes.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewAMQPPublisher constructs a RabbitMQ publisher.
func NewAMQPPublisher(url string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{url: url, logger: logger, declared: make(map[string]bool)}
}

// Name implements Publisher.
func (p *AMQPPublisher) Name() string { return "amqp" }

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	if !p.declared[msg.Type] {
		if _, err := ch.QueueDeclare(msg.Type, true, false, false, false, nil); err != nil {
			p.reset()
			return fmt.Errorf("amqp queue declare %s: %w", msg.Type, err)
		}
		p.declared[msg.Type] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    msg.OccurredAt,
		Body:         msg.Body,
	}
	if err := ch.PublishWithContext(ctx, "", msg.Type, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("amqp publish %s: %w", msg.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel open: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("amqp publisher connected")
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
	p.declared = make(map[string]bool)
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

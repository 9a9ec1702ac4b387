package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/intake-ledger/intake"
)

// amqpChannel is the subset of *amqp091.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes to a durable topic exchange with routing key
// <routingKey>.<event type>, e.g. "entries.entry.created".
type RabbitPublisher struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitPublisher dials url and declares the exchange.
func NewRabbitPublisher(url, exchange, routingKey string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// RoutingKey returns the key used for evt.
func (p *RabbitPublisher) RoutingKey(evt intake.Event) string {
	if p.routingKey == "" {
		return string(evt.Type)
	}
	return p.routingKey + "." + string(evt.Type)
}

func (p *RabbitPublisher) Publish(ctx context.Context, evt intake.Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    evt.At,
		Type:         string(evt.Type),
		Body:         body,
		Headers:      amqp091.Table{"date": evt.Date.String()},
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(evt), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ intake.Publisher = (*RabbitPublisher)(nil)

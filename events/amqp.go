/*
Package events delivers count session events to RabbitMQ.

Each event is published as a persistent JSON message to a durable queue
named after the event type (count.session.approved), through the default
exchange. Consumers such as the ERP integration read that queue.

Publishing happens after the approval transaction commits. A failure is
logged and returned; the engine never undoes an approval because of it.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/stockcount/count"
)

// AMQPPublisher implements count.Publisher.
// The connection is opened lazily and reopened after it drops.
type AMQPPublisher struct {
	URL string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{URL: url}
}

// Publish sends one event. Safe for concurrent use.
func (p *AMQPPublisher) Publish(ctx context.Context, ev count.Event) error {
	msg, err := NewMessage(ev)
	if err != nil {
		return err
	}

	conn, err := p.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		ev.Type, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", ev.Type, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	log.Printf("[Events] Published %s for %s", ev.Type, ev.Code)
	return nil
}

func (p *AMQPPublisher) connection() (*amqp.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	p.conn = conn
	return conn, nil
}

// Close closes the broker connection if one is open.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// NewMessage builds the persistent JSON message for an event.
func NewMessage(ev count.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ts,
		Type:         ev.Type,
		MessageId:    string(ev.SessionID) + ":" + ev.Type,
		Body:         body,
	}, nil
}

var _ count.Publisher = (*AMQPPublisher)(nil)

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"groupchat/internal/observability"
	"groupchat/internal/telemetry"
)

var (
	ErrUnavailable = errors.New("rabbitmq channel unavailable")
	errClosed      = errors.New("publisher closed")
)

// Publisher publishes audit and realtime lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled.
// A connected publisher redials in the background when the broker drops it.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	p := &amqpPublisher{
		url:      amqpURL,
		exchange: exchange,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	p.attach(conn, ch)
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p
}

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	url        string
	exchange   string
	newBackoff func() backoff.BackOff

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func (p *amqpPublisher) attach(conn *amqp.Connection, ch *amqp.Channel) {
	lost := conn.NotifyClose(make(chan *amqp.Error, 1))
	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	go p.watch(lost)
}

func (p *amqpPublisher) watch(lost <-chan *amqp.Error) {
	amqpErr, ok := <-lost
	p.mu.Lock()
	p.conn, p.ch = nil, nil
	closed := p.closed
	p.mu.Unlock()
	if closed || !ok {
		return
	}

	log.Printf("rabbitmq connection lost: %v", amqpErr)
	err := backoff.RetryNotify(func() error {
		conn, ch, err := dial(p.url, p.exchange)
		if err != nil {
			return err
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			_ = conn.Close()
			return backoff.Permanent(errClosed)
		}
		p.attach(conn, ch)
		return nil
	}, p.newBackoff(), func(err error, wait time.Duration) {
		log.Printf("rabbitmq redial failed, retrying in %s: %v", wait, err)
	})
	if err != nil {
		if !errors.Is(err, errClosed) {
			log.Printf("rabbitmq redial gave up: %v", err)
		}
		return
	}
	log.Printf("rabbitmq reconnected exchange=%s", p.exchange)
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil {
		return ErrUnavailable
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      toTable(headers),
		Body:         body,
	})
	if err != nil {
		log.Printf("rabbitmq publish failed routing_key=%s: %v", routingKey, err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	conn, ch := p.conn, p.ch
	p.conn, p.ch = nil, nil
	p.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}
	return table
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		log.Printf("rabbitmq noop publish routing_key=%s action=%s request_id=%s", routingKey, envelope.Payload.Action, envelope.RequestID)
	case observability.EventEnvelope:
		log.Printf("rabbitmq noop publish routing_key=%s event=%s trace_id=%s", routingKey, envelope.EventName, headers["trace_id"])
	default:
		log.Printf("rabbitmq noop publish routing_key=%s request_id=%s", routingKey, headers["x-request-id"])
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}

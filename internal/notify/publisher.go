package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/noah-isme/backend-laundry/internal/obs"
	"github.com/noah-isme/backend-laundry/internal/resilience"
)

// DefaultExchange receives every order status update.
const DefaultExchange = "order_status_fanout"

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher fans status updates out to a RabbitMQ fanout exchange. A single
// channel is reused until a publish fails, after which the next call reopens it.
type Publisher struct {
	Exchange string
	Breaker  *resilience.Breaker

	open func() (Channel, error)

	mu       sync.Mutex
	ch       Channel
	declared bool
}

// NewPublisher publishes over conn to exchange.
func NewPublisher(conn *amqp.Connection, exchange string, breaker *resilience.Breaker) *Publisher {
	return NewPublisherWithOpener(func() (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, exchange, breaker)
}

// NewPublisherWithOpener builds a publisher on top of a custom channel source.
func NewPublisherWithOpener(open func() (Channel, error), exchange string, breaker *resilience.Breaker) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{Exchange: exchange, Breaker: breaker, open: open}
}

// Publish sends msg as a persistent JSON message. When the breaker is open
// resilience.ErrOpenCircuit is returned without touching the broker.
func (p *Publisher) Publish(ctx context.Context, msg StatusUpdate) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode status update: %w", err)
	}
	send := func(ctx context.Context) error { return p.send(ctx, msg, body) }
	if p.Breaker != nil {
		err = p.Breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	switch {
	case err == nil:
		obs.IncCounter(obs.NotificationsPublishedTotal, "published")
	case errors.Is(err, resilience.ErrOpenCircuit):
		obs.IncCounter(obs.NotificationsPublishedTotal, "circuit_open")
	default:
		obs.IncCounter(obs.NotificationsPublishedTotal, "error")
	}
	return err
}

func (p *Publisher) send(ctx context.Context, msg StatusUpdate, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.Exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.EventID.String(),
		Type:         msg.Topic,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("notify: publish %s: %w", msg.OrderNumber, err)
	}
	return nil
}

func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	if p.open == nil {
		return nil, errors.New("notify: broker connection not configured")
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if !p.declared {
		if err := ch.ExchangeDeclare(p.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("notify: declare exchange %s: %w", p.Exchange, err)
		}
		p.declared = true
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Close releases the cached channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

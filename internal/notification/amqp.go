package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

const routingKeyPrefix = "notification.email."

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTransport publishes messages as JSON to a durable topic exchange where
// a mail worker picks them up.
type AMQPTransport struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  Channel
	exchange string
}

// DialAMQP connects to RabbitMQ and declares exchange.
func DialAMQP(rawURL, exchange string) (*AMQPTransport, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, oops.Code("AMQP_INVALID_URL").Wrap(err)
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, oops.Code("AMQP_DIAL_FAILED").Wrap(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("AMQP_CHANNEL_FAILED").Wrap(err)
	}
	transport, err := NewAMQPTransport(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	transport.conn = conn
	return transport, nil
}

// NewAMQPTransport wraps an open channel and declares exchange on it.
func NewAMQPTransport(ch Channel, exchange string) (*AMQPTransport, error) {
	if err := declare(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPTransport{channel: ch, exchange: exchange}, nil
}

// Deliver publishes message with routing key notification.email.{kind}. A
// failed publish reopens the channel once when a connection is held.
func (t *AMQPTransport) Deliver(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return oops.Code("AMQP_ENCODE_FAILED").With("kind", message.Kind).Wrap(err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	key := routingKeyPrefix + message.Kind

	t.mu.Lock()
	defer t.mu.Unlock()

	err = t.channel.PublishWithContext(ctx, t.exchange, key, false, false, publishing)
	if err == nil {
		return nil
	}
	if t.conn == nil || t.conn.IsClosed() {
		return oops.Code("AMQP_PUBLISH_FAILED").With("exchange", t.exchange).With("routing_key", key).Wrap(err)
	}

	ch, chErr := t.conn.Channel()
	if chErr != nil {
		return oops.Code("AMQP_PUBLISH_FAILED").With("exchange", t.exchange).With("routing_key", key).Wrap(errors.Join(err, chErr))
	}
	if declErr := declare(ch, t.exchange); declErr != nil {
		_ = ch.Close()
		return declErr
	}
	_ = t.channel.Close()
	t.channel = ch
	if err := t.channel.PublishWithContext(ctx, t.exchange, key, false, false, publishing); err != nil {
		return oops.Code("AMQP_PUBLISH_FAILED").With("exchange", t.exchange).With("routing_key", key).With("retried", true).Wrap(err)
	}
	return nil
}

// Close releases the channel and connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	if t.channel != nil {
		errs = append(errs, t.channel.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}

func declare(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return oops.Code("AMQP_DECLARE_FAILED").With("exchange", exchange).Wrap(err)
	}
	return nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

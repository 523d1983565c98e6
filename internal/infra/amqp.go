package infra

import (
	"github.com/samber/oops"

	"github.com/congo-pay/congo_auth/internal/notification"
)

// NewNotificationTransport dials RabbitMQ and declares the notification
// exchange.
func NewNotificationTransport(url, exchange string) (*notification.AMQPTransport, error) {
	if url == "" {
		return nil, oops.Code("INFRA_CONFIG_MISSING").Errorf("rabbitmq url is required")
	}
	transport, err := notification.DialAMQP(url, exchange)
	if err != nil {
		return nil, oops.Code("INFRA_CONNECT_FAILED").With("backend", "rabbitmq").Wrap(err)
	}
	return transport, nil
}

// Package notification renders credential messages and hands them to a
// delivery transport.
package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPasswordReset carries a reset link.
	KindPasswordReset = "password_reset"
	// KindPin carries a one-time PIN.
	KindPin = "pin"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Kind        string `json:"kind"`
	From        string `json:"from"`
	Destination string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"html"`
}

// Transport delivers rendered messages.
type Transport interface {
	Deliver(ctx context.Context, message Message) error
}

// LoggerTransport writes messages to the logger instead of sending them. It is
// meant for local development only since the body contains the secret.
type LoggerTransport struct {
	logger *slog.Logger
}

// NewLoggerTransport constructs a logging transport.
func NewLoggerTransport(logger *slog.Logger) *LoggerTransport {
	return &LoggerTransport{logger: logger}
}

// Deliver writes the message to the structured logger.
func (t *LoggerTransport) Deliver(_ context.Context, message Message) error {
	if t == nil || t.logger == nil {
		return nil
	}
	t.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"subject", message.Subject,
		"body", message.Body)
	return nil
}

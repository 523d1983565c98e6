package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_auth/internal/errutil/oopstest"
	"github.com/congo-pay/congo_auth/internal/logging"
)

type recordingTransport struct {
	messages []Message
	err      error
}

func (r *recordingTransport) Deliver(_ context.Context, message Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, message)
	return nil
}

func newTestMailer(transport Transport) *Mailer {
	return NewMailer(transport, MailerConfig{
		AppURL:   "http://localhost:3000/",
		From:     "noreply@example.com",
		ResetTTL: time.Hour,
		PinTTL:   5 * time.Minute,
	})
}

func TestMailerSendResetLink(t *testing.T) {
	transport := &recordingTransport{}
	mailer := newTestMailer(transport)

	require.NoError(t, mailer.SendResetLink(context.Background(), "a@x.com", "abc123", "password"))
	require.Len(t, transport.messages, 1)

	msg := transport.messages[0]
	assert.Equal(t, KindPasswordReset, msg.Kind)
	assert.Equal(t, "a@x.com", msg.Destination)
	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, "Reset Your Password", msg.Subject)
	assert.Contains(t, msg.Body, `href="http://localhost:3000/reset-password?token=abc123"`)
	assert.Contains(t, msg.Body, "expire in 1 hour")
}

func TestMailerSendPin(t *testing.T) {
	transport := &recordingTransport{}
	mailer := newTestMailer(transport)

	require.NoError(t, mailer.SendPin(context.Background(), "a@x.com", "482913"))
	require.Len(t, transport.messages, 1)

	msg := transport.messages[0]
	assert.Equal(t, KindPin, msg.Kind)
	assert.Contains(t, msg.Body, "<strong>482913</strong>")
	assert.Contains(t, msg.Body, "expire in 5 minutes")
}

func TestMailerWrapsTransportFailure(t *testing.T) {
	mailer := newTestMailer(&recordingTransport{err: errors.New("smtp down")})

	err := mailer.SendPin(context.Background(), "a@x.com", "482913")
	require.Error(t, err)
	oopstest.RequireCode(t, err, "NOTIFY_SEND_FAILED")
	assert.Contains(t, err.Error(), "smtp down")
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "1 hour", humanize(time.Hour))
	assert.Equal(t, "2 hours", humanize(2*time.Hour))
	assert.Equal(t, "5 minutes", humanize(5*time.Minute))
	assert.Equal(t, "90 minutes", humanize(90*time.Minute))
	assert.Equal(t, "1 minute", humanize(time.Minute))
}

func TestLoggerTransportDelivers(t *testing.T) {
	require.NoError(t, NewLoggerTransport(logging.Discard()).Deliver(context.Background(), Message{Kind: KindPin}))
	var nilTransport *LoggerTransport
	require.NoError(t, nilTransport.Deliver(context.Background(), Message{}))
}

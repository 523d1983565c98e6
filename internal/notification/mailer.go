package notification

import (
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

var (
	resetTemplate = template.Must(template.New("reset").Parse(`
<h1>{{.Type}} Reset Request</h1>
<p>You requested to reset your {{.LowerType}}. Click the link below to proceed:</p>
<p><a href="{{.Link}}">Reset {{.Type}}</a></p>
<p>If you didn't request this, please ignore this email.</p>
<p>This link will expire in {{.Window}}.</p>
`))

	pinTemplate = template.Must(template.New("pin").Parse(`
<h1>Your Sign-in PIN</h1>
<p>Your PIN for signing in is: <strong>{{.PIN}}</strong></p>
<p>This PIN will expire in {{.Window}}.</p>
<p>If you didn't request this PIN, please ignore this email.</p>
`))
)

// MailerConfig holds rendering settings.
type MailerConfig struct {
	AppURL   string
	From     string
	ResetTTL time.Duration
	PinTTL   time.Duration
}

// Mailer renders reset links and PINs and delivers them through a Transport.
type Mailer struct {
	transport Transport
	cfg       MailerConfig
}

// NewMailer builds a Mailer.
func NewMailer(transport Transport, cfg MailerConfig) *Mailer {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Mailer{transport: transport, cfg: cfg}
}

// SendResetLink emails a link of the form {AppURL}/reset-{kind}?token={token}.
func (m *Mailer) SendResetLink(ctx context.Context, email, token, kind string) error {
	if kind == "" {
		kind = "password"
	}
	link := fmt.Sprintf("%s/reset-%s?token=%s", m.cfg.AppURL, url.PathEscape(kind), url.QueryEscape(token))
	title := capitalize(kind)

	var body strings.Builder
	if err := resetTemplate.Execute(&body, map[string]string{
		"Type":      title,
		"LowerType": strings.ToLower(title),
		"Link":      link,
		"Window":    humanize(m.cfg.ResetTTL),
	}); err != nil {
		return oops.Code("NOTIFY_RENDER_FAILED").With("kind", KindPasswordReset).Wrap(err)
	}

	return m.deliver(ctx, Message{
		Kind:        KindPasswordReset,
		Destination: email,
		Subject:     "Reset Your " + title,
		Body:        body.String(),
	})
}

// SendPin emails a one-time PIN.
func (m *Mailer) SendPin(ctx context.Context, email, pin string) error {
	var body strings.Builder
	if err := pinTemplate.Execute(&body, map[string]string{
		"PIN":    pin,
		"Window": humanize(m.cfg.PinTTL),
	}); err != nil {
		return oops.Code("NOTIFY_RENDER_FAILED").With("kind", KindPin).Wrap(err)
	}

	return m.deliver(ctx, Message{
		Kind:        KindPin,
		Destination: email,
		Subject:     "Your Sign-in PIN",
		Body:        body.String(),
	})
}

func (m *Mailer) deliver(ctx context.Context, message Message) error {
	message.From = m.cfg.From
	if err := m.transport.Deliver(ctx, message); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("kind", message.Kind).Wrap(err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// humanize renders whole hours or minutes, e.g. "1 hour" or "5 minutes".
func humanize(d time.Duration) string {
	unit, n := "minute", int64(d/time.Minute)
	if d >= time.Hour && d%time.Hour == 0 {
		unit, n = "hour", int64(d/time.Hour)
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

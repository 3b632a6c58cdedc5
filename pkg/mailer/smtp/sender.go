// Package smtp implements mailer.Sender over a direct SMTP relay.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"gopkg.in/gomail.v2"

	"github.com/impresshq/impress/pkg/mailer"
)

// Config holds SMTP relay configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Host          string `env:"SMTP_HOST" envDefault:"localhost"`
	Port          int    `env:"SMTP_PORT" envDefault:"587"`
	Username      string `env:"SMTP_USERNAME"`
	Password      string `env:"SMTP_PASSWORD"`
	TLSSkipVerify bool   `env:"SMTP_TLS_SKIP_VERIFY" envDefault:"false"`
}

// Sender implements mailer.Sender using a gomail dialer.
type Sender struct {
	dialer *gomail.Dialer
}

var _ mailer.Sender = (*Sender)(nil)

// New creates an SMTP sender for the configured relay.
func New(cfg Config) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.TLSSkipVerify {
		d.TLSConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: true,
		}
	}
	return &Sender{dialer: d}
}

// Send implements mailer.Sender.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) error {
	if err := email.Validate(); err != nil {
		return errors.Join(mailer.ErrRejected, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", email.From)
	m.SetHeader("To", email.To...)
	if len(email.CC) > 0 {
		m.SetHeader("Cc", email.CC...)
	}
	if len(email.BCC) > 0 {
		m.SetHeader("Bcc", email.BCC...)
	}
	if email.ReplyTo != "" {
		m.SetHeader("Reply-To", email.ReplyTo)
	}
	m.SetHeader("Subject", email.Subject)
	for k, v := range email.Headers {
		m.SetHeader(k, v)
	}

	if email.Text != "" {
		m.SetBody("text/plain", email.Text)
		if email.HTML != "" {
			m.AddAlternative("text/html", email.HTML)
		}
	} else {
		m.SetBody("text/html", email.HTML)
	}

	// gomail has no context support; honor cancellation before the blocking dial.
	if err := ctx.Err(); err != nil {
		return errors.Join(mailer.ErrTransportUnavailable, err)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps transport errors onto the mailer failure taxonomy.
// Network-level failures mean the relay was unreachable; anything the relay
// itself said after the dial is treated as a rejection.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(mailer.ErrTransportUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Join(mailer.ErrTransportUnavailable, err)
	}
	return errors.Join(mailer.ErrRejected, err)
}

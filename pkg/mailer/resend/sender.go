// Package resend implements mailer.Sender using the Resend API.
package resend

import (
	"context"
	"errors"
	"net"

	"github.com/resend/resend-go/v3"

	"github.com/impresshq/impress/pkg/mailer"
)

// Config holds Resend provider configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	APIKey string `env:"RESEND_API_KEY"`
}

// Sender implements mailer.Sender using the Resend API.
type Sender struct {
	client *resend.Client
}

var _ mailer.Sender = (*Sender)(nil)

// New creates a new Resend sender.
func New(cfg Config) *Sender {
	return &Sender{client: resend.NewClient(cfg.APIKey)}
}

// Send implements mailer.Sender.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) error {
	if err := email.Validate(); err != nil {
		return errors.Join(mailer.ErrRejected, err)
	}

	req := &resend.SendEmailRequest{
		From:    email.From,
		To:      email.To,
		Cc:      email.CC,
		Bcc:     email.BCC,
		ReplyTo: email.ReplyTo,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Headers: email.Headers,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return errors.Join(mailer.ErrTransportUnavailable, err)
		}
		return errors.Join(mailer.ErrRejected, err)
	}
	return nil
}

// Package remote implements mailer.Sender by forwarding the message to the
// send endpoint of another impress deployment over authenticated HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/impresshq/impress/pkg/mailer"
)

// Config holds remote forwarding configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	// Target is the send endpoint of the remote deployment,
	// e.g. https://mail.example.com/api/send_message.
	Target string `env:"REMOTE_TARGET"`
	// Token authenticates against the remote service's access token.
	Token string `env:"REMOTE_TOKEN"`
	// Service is the service name the remote deployment dispatches under.
	Service string `env:"REMOTE_SERVICE" envDefault:"default"`

	Timeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"15s"`
}

// payload mirrors the send endpoint's request body.
type payload struct {
	ServiceName string   `json:"service_name"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	From        string   `json:"from,omitempty"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Sender implements mailer.Sender over HTTP.
type Sender struct {
	client *resty.Client
	config Config
}

var _ mailer.Sender = (*Sender)(nil)

// New creates a remote sender targeting another impress deployment.
func New(cfg Config) *Sender {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Token "+cfg.Token)
	return &Sender{client: client, config: cfg}
}

// Send implements mailer.Sender. The rendered HTML is intentionally not
// forwarded: the remote deployment re-renders through its own service
// template, so only the caller-supplied text body travels over the wire.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) error {
	if err := email.Validate(); err != nil {
		return errors.Join(mailer.ErrRejected, err)
	}

	body := email.Text
	if body == "" {
		body = email.HTML
	}

	var errResp errorBody
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload{
			ServiceName: s.config.Service,
			Subject:     email.Subject,
			Body:        body,
			From:        email.From,
			To:          email.To,
			CC:          email.CC,
			BCC:         email.BCC,
		}).
		SetError(&errResp).
		Post(s.config.Target)
	if err != nil {
		return errors.Join(mailer.ErrTransportUnavailable, err)
	}

	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return errors.Join(mailer.ErrAuthenticationFailed, remoteError(resp.StatusCode(), errResp))
	case resp.StatusCode() >= http.StatusInternalServerError:
		return errors.Join(mailer.ErrTransportUnavailable, remoteError(resp.StatusCode(), errResp))
	default:
		return errors.Join(mailer.ErrRejected, remoteError(resp.StatusCode(), errResp))
	}
}

func remoteError(status int, body errorBody) error {
	if body.Error != "" {
		return fmt.Errorf("remote responded %d: %s", status, body.Error)
	}
	return fmt.Errorf("remote responded %d", status)
}

// Package mailer defines the outbound email message and the pluggable Sender
// interface implemented by the smtp, resend, and remote backends.
package mailer

import (
	"context"
	"fmt"
)

// Sender is the minimal interface email backends implement.
// It accepts a fully-prepared Email and handles the actual delivery.
type Sender interface {
	// Send delivers an email message in a single best-effort attempt.
	// Failures are classified with the sentinel errors of this package.
	Send(ctx context.Context, email *Email) error
}

// Email represents a fully-rendered email message ready for delivery.
type Email struct {
	Headers map[string]string // Custom headers
	From    string            // Sender in RFC 5322 format
	ReplyTo string            // Reply-to address
	Subject string            // Rendered subject
	HTML    string            // Rendered HTML body
	Text    string            // Plain text alternative
	To      []string          // Recipients (at least one required)
	CC      []string          // Carbon copy recipients
	BCC     []string          // Blind carbon copy recipients
}

// Validate checks the message has the fields every backend requires.
func (e *Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipient
	}
	if e.From == "" {
		return ErrNoSender
	}
	if e.Subject == "" {
		return ErrNoSubject
	}
	if e.HTML == "" && e.Text == "" {
		return ErrNoContent
	}
	return nil
}

// Recipient formats a display name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just the email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Package dispatch turns accepted send requests into delivered emails: it
// resolves recipients and templates from service configuration, enforces send
// quotas, logs every message, renders, and hands off to a mail backend.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/impresshq/impress/internal/render"
	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/mailer"
	"github.com/impresshq/impress/pkg/ratelimit"
)

// Request is a parsed send request. Body carries the raw request body; when
// the service's JSON body policy permits it, a JSON object body is decoded
// into extra template variables.
type Request struct {
	Token    string
	Subject  string
	Body     string
	Template string   // template name override
	From     string   // sender override
	To       []string // extra recipients
	CC       []string
	BCC      []string
}

// Receipt reports the outcome of a dispatch. The message ID is the delivery
// identifier returned to API callers.
type Receipt struct {
	MessageID uuid.UUID
	Status    store.MessageStatus
}

// Storage is the persistence surface the dispatcher needs.
type Storage interface {
	render.TemplateSource
	TemplateByName(ctx context.Context, name string) (*store.Template, error)
	ServiceRecipients(ctx context.Context, serviceID uuid.UUID) (*store.RecipientSets, error)
	GetOrCreateAddress(ctx context.Context, address string) (*store.EmailAddress, error)
	FilterUnsubscribed(ctx context.Context, serviceID uuid.UUID, addrs []store.EmailAddress) ([]store.EmailAddress, error)
	CreateMessage(ctx context.Context, m *store.Message) error
	MarkMessageSent(ctx context.Context, m *store.Message) error
	MarkMessageFailed(ctx context.Context, m *store.Message, sendErr error) error
}

// Dispatcher coordinates a single best-effort delivery per request.
// No queueing and no automatic retries; failed rows stay in the message log
// for an operator-invoked flush.
type Dispatcher struct {
	store    Storage
	renderer *render.Renderer
	sender   mailer.Sender
	limiter  ratelimit.Limiter
	log      *slog.Logger
}

// New creates a Dispatcher. The limiter may be nil when no quota enforcement
// is wanted.
func New(st Storage, renderer *render.Renderer, sender mailer.Sender, limiter ratelimit.Limiter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: st, renderer: renderer, sender: sender, limiter: limiter, log: log}
}

// Dispatch resolves, logs, renders, and sends one message through svc.
// The receipt is non-nil whenever a message row was written, including on
// delivery failure, so callers can report the delivery identifier.
func (d *Dispatcher) Dispatch(ctx context.Context, svc *store.Service, req *Request) (*Receipt, error) {
	if !svc.Active {
		return nil, ErrServiceInactive
	}
	if err := d.checkRateLimit(ctx, svc, req.Token); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ServiceID: svc.ID,
		Subject:   req.Subject,
		Body:      req.Body,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	receipt := &Receipt{MessageID: msg.ID, Status: store.MessagePending}

	email, err := d.prepare(ctx, svc, req, msg)
	if err != nil {
		if markErr := d.store.MarkMessageFailed(ctx, msg, err); markErr != nil {
			d.log.ErrorContext(ctx, "failed to record message failure",
				slog.String("message_id", msg.ID.String()), slog.Any("error", markErr))
		}
		receipt.Status = store.MessageFailed
		return receipt, err
	}

	if sendErr := d.sender.Send(ctx, email); sendErr != nil {
		if markErr := d.store.MarkMessageFailed(ctx, msg, sendErr); markErr != nil {
			d.log.ErrorContext(ctx, "failed to record message failure",
				slog.String("message_id", msg.ID.String()), slog.Any("error", markErr))
		}
		receipt.Status = store.MessageFailed
		return receipt, sendErr
	}

	if err := d.store.MarkMessageSent(ctx, msg); err != nil {
		d.log.ErrorContext(ctx, "message sent but outcome not recorded",
			slog.String("message_id", msg.ID.String()), slog.Any("error", err))
	}
	receipt.Status = store.MessageSent

	d.log.InfoContext(ctx, "message dispatched",
		slog.String("message_id", msg.ID.String()),
		slog.String("service", svc.Name),
		slog.Int("recipients", len(email.To)))
	return receipt, nil
}

// prepare resolves the template, variables, recipients, and sender, renders
// the content, and records the final snapshot on the message row.
func (d *Dispatcher) prepare(ctx context.Context, svc *store.Service, req *Request, msg *store.Message) (*mailer.Email, error) {
	tpl, err := d.resolveTemplate(ctx, svc, req.Template)
	if err != nil {
		return nil, err
	}

	vars, err := buildVars(svc.JSONBodyPolicy, req.Subject, req.Body)
	if err != nil {
		return nil, err
	}

	from, err := d.resolveFrom(svc, req.From)
	if err != nil {
		return nil, err
	}

	to, cc, bcc, err := d.resolveRecipients(ctx, svc, req)
	if err != nil {
		return nil, err
	}

	out, err := d.renderer.Render(ctx, tpl, vars)
	if err != nil {
		return nil, err
	}

	email := &mailer.Email{
		From:    from,
		Subject: out.Subject,
		HTML:    out.HTML,
		Text:    out.Text,
		To:      recipientStrings(to),
		CC:      recipientStrings(cc),
		BCC:     recipientStrings(bcc),
	}
	if err := email.Validate(); err != nil {
		return nil, err
	}

	msg.FinalFrom = email.From
	msg.FinalTo = email.To
	msg.FinalCC = email.CC
	msg.FinalBCC = email.BCC
	msg.FinalSubject = email.Subject
	msg.FinalHTML = email.HTML
	msg.FinalText = email.Text
	return email, nil
}

func (d *Dispatcher) resolveTemplate(ctx context.Context, svc *store.Service, override string) (*store.Template, error) {
	if override != "" {
		tpl, err := d.store.TemplateByName(ctx, override)
		if err != nil {
			return nil, err
		}
		if !svc.AllowsTemplate(tpl.ID) {
			return nil, ErrTemplateNotAllowed
		}
		return tpl, nil
	}
	if svc.DefaultTemplateID != nil {
		return d.store.TemplateByID(ctx, *svc.DefaultTemplateID)
	}
	return store.PassthroughTemplate(), nil
}

func (d *Dispatcher) resolveFrom(svc *store.Service, override string) (string, error) {
	if override != "" {
		if !svc.AllowFromOverride {
			return "", ErrFromNotAllowed
		}
		normalized, err := store.NormalizeAddress(override)
		if err != nil {
			return "", err
		}
		return normalized, nil
	}
	if svc.DefaultSender == nil {
		return "", fmt.Errorf("service %s has no default sender loaded", svc.Name)
	}
	return svc.DefaultSender.Recipient(), nil
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, svc *store.Service, req *Request) (to, cc, bcc []store.EmailAddress, err error) {
	sets, err := d.store.ServiceRecipients(ctx, svc.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	to, cc, bcc = sets.To, sets.CC, sets.BCC

	if svc.AllowExtraRecipients {
		if to, err = d.appendExtras(ctx, to, req.To); err != nil {
			return nil, nil, nil, err
		}
		if cc, err = d.appendExtras(ctx, cc, req.CC); err != nil {
			return nil, nil, nil, err
		}
		if bcc, err = d.appendExtras(ctx, bcc, req.BCC); err != nil {
			return nil, nil, nil, err
		}
	}

	if svc.Unsubscribable {
		if to, err = d.store.FilterUnsubscribed(ctx, svc.ID, to); err != nil {
			return nil, nil, nil, err
		}
		if cc, err = d.store.FilterUnsubscribed(ctx, svc.ID, cc); err != nil {
			return nil, nil, nil, err
		}
		if bcc, err = d.store.FilterUnsubscribed(ctx, svc.ID, bcc); err != nil {
			return nil, nil, nil, err
		}
	}

	if len(to) == 0 {
		return nil, nil, nil, ErrNoRecipients
	}
	return to, cc, bcc, nil
}

func (d *Dispatcher) appendExtras(ctx context.Context, addrs []store.EmailAddress, extras []string) ([]store.EmailAddress, error) {
	for _, raw := range extras {
		a, err := d.store.GetOrCreateAddress(ctx, raw)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, *a)
	}
	return addrs, nil
}

func (d *Dispatcher) checkRateLimit(ctx context.Context, svc *store.Service, token string) error {
	if d.limiter == nil || svc.RateLimit == nil {
		return nil
	}
	rl := svc.RateLimit

	key := "svc:" + svc.Name
	if rl.Scope == store.ScopePerCaller {
		sum := sha256.Sum256([]byte(token))
		key += ":" + hex.EncodeToString(sum[:8])
	}

	var (
		res ratelimit.Result
		err error
	)
	if rl.Strategy == store.StrategyRolling {
		res, err = d.limiter.AllowRolling(ctx, key, rl.Quantity, rl.Window)
	} else {
		res, err = d.limiter.Allow(ctx, key, rl.Quantity, rl.Window)
	}
	if err != nil {
		// Fail open: a broken limiter store must not block sends.
		d.log.WarnContext(ctx, "rate limiter unavailable, allowing send",
			slog.String("service", svc.Name), slog.Any("error", err))
		return nil
	}
	if !res.Allowed {
		return &RateLimitedError{RetryAfter: res.RetryAfter}
	}
	return nil
}

// buildVars assembles the template variables from the request subject and
// body, applying the service's JSON body policy. Decoded JSON object keys
// merge into the variables without overriding the reserved subject and body
// names.
func buildVars(policy store.JSONBodyPolicy, subject, body string) (map[string]any, error) {
	vars := map[string]any{
		"subject": subject,
		"body":    body,
	}
	if policy == store.JSONBodyForbid {
		return vars, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil || obj == nil {
		if policy == store.JSONBodyRequire {
			return nil, ErrJSONBodyRequired
		}
		return vars, nil
	}
	for k, v := range obj {
		if k == "subject" || k == "body" {
			continue
		}
		vars[k] = v
	}
	return vars, nil
}

func recipientStrings(addrs []store.EmailAddress) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Recipient()
	}
	return out
}

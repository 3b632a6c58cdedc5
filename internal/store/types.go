package store

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/impresshq/impress/pkg/mailer"
)

// serviceNameRe restricts service names to URL-safe identifiers.
var serviceNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// EmailAddress is a stored sender or recipient identity.
type EmailAddress struct {
	ID              uuid.UUID `json:"id"`
	Address         string    `json:"address"`
	DisplayName     string    `json:"display_name"`
	UnsubscribedAll bool      `json:"unsubscribed_all"`
	CreatedAt       time.Time `json:"created_at"`
}

// Recipient returns the address in RFC 5322 format.
func (a EmailAddress) Recipient() string {
	return mailer.Recipient(a.DisplayName, a.Address)
}

// NormalizeAddress lowercases an address and extracts the bare address from
// display variants like `"Fred" <fred@example.com>`. Returns an error when the
// result is not a parseable address.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return strings.ToLower(parsed.Address), nil
}

// Distribution is a named collection of addresses and nested distributions.
type Distribution struct {
	ID              uuid.UUID   `json:"id"`
	Name            string      `json:"name"`
	AddressIDs      []uuid.UUID `json:"address_ids"`
	DistributionIDs []uuid.UUID `json:"distribution_ids"`
}

// BodyFormat selects how a template body is interpreted at render time.
type BodyFormat string

const (
	FormatHTML     BodyFormat = "html"
	FormatMarkdown BodyFormat = "markdown"
)

// Valid reports whether the format is a known value.
func (f BodyFormat) Valid() bool {
	return f == FormatHTML || f == FormatMarkdown
}

// Default template contents: pass the caller's subject and body through unchanged.
const (
	DefaultSubject       = "{{subject}}"
	DefaultBodyPlaintext = "{{body}}"
	DefaultBodyHTML      = `<!DOCTYPE html>
<html>
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0"/>
</head>
<body>
  <div>{{body}}</div>
</body>
</html>
`
)

// Template is a stored subject/body pair with placeholders, optionally
// extending a base layout template.
type Template struct {
	ID                    uuid.UUID  `json:"id"`
	Name                  string     `json:"name"`
	Subject               string     `json:"subject"`
	BodyHTML              string     `json:"body_html"`
	BodyPlaintext         string     `json:"body_plaintext"`
	Format                BodyFormat `json:"format"`
	AutogeneratePlaintext bool       `json:"autogenerate_plaintext"`
	ExtendsID             *uuid.UUID `json:"extends_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// PassthroughTemplate returns the built-in template used when a service has no
// default assigned: subject and body render unchanged.
func PassthroughTemplate() *Template {
	return &Template{
		Name:                  "passthrough",
		Subject:               DefaultSubject,
		BodyHTML:              DefaultBodyHTML,
		BodyPlaintext:         DefaultBodyPlaintext,
		Format:                FormatHTML,
		AutogeneratePlaintext: false,
	}
}

// Validate fills defaults and rejects malformed templates.
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name required", ErrInvalidInput)
	}
	if t.Format == "" {
		t.Format = FormatHTML
	}
	if !t.Format.Valid() {
		return fmt.Errorf("%w: unknown body format %q", ErrInvalidInput, t.Format)
	}
	if t.Subject == "" {
		t.Subject = DefaultSubject
	}
	if t.BodyHTML == "" {
		t.BodyHTML = DefaultBodyHTML
	}
	if t.BodyPlaintext == "" && !t.AutogeneratePlaintext {
		t.BodyPlaintext = DefaultBodyPlaintext
	}
	return nil
}

// JSONBodyPolicy controls whether a message body may be decoded as JSON and
// merged into the template variables.
type JSONBodyPolicy string

const (
	JSONBodyForbid  JSONBodyPolicy = "forbid"
	JSONBodyPermit  JSONBodyPolicy = "permit"
	JSONBodyRequire JSONBodyPolicy = "require"
)

// Valid reports whether the policy is a known value.
func (p JSONBodyPolicy) Valid() bool {
	return p == JSONBodyForbid || p == JSONBodyPermit || p == JSONBodyRequire
}

// RateLimitStrategy selects the counting window shape.
type RateLimitStrategy string

const (
	StrategyFixed   RateLimitStrategy = "fixed"
	StrategyRolling RateLimitStrategy = "rolling"
)

// RateLimitScope selects what the quota counts against.
type RateLimitScope string

const (
	// ScopeTotal counts all sends through the service.
	ScopeTotal RateLimitScope = "total"
	// ScopePerCaller counts sends per presented access token. A service
	// holds a single access token, so today this behaves like ScopeTotal;
	// it separates callers once services can issue multiple credentials.
	ScopePerCaller RateLimitScope = "per_caller"
)

// RateLimit is a named send quota that services can reference.
type RateLimit struct {
	ID       uuid.UUID         `json:"id"`
	Name     string            `json:"name"`
	Quantity int               `json:"quantity"`
	Window   time.Duration     `json:"window"`
	Strategy RateLimitStrategy `json:"strategy"`
	Scope    RateLimitScope    `json:"scope"`
}

// Validate rejects malformed rate limits and fills defaults.
func (r *RateLimit) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rate limit name required", ErrInvalidInput)
	}
	if r.Quantity <= 0 || r.Window <= 0 {
		return fmt.Errorf("%w: rate limit quantity and window must be positive", ErrInvalidInput)
	}
	if r.Strategy == "" {
		r.Strategy = StrategyFixed
	}
	if r.Strategy != StrategyFixed && r.Strategy != StrategyRolling {
		return fmt.Errorf("%w: unknown rate limit strategy %q", ErrInvalidInput, r.Strategy)
	}
	if r.Scope == "" {
		r.Scope = ScopeTotal
	}
	if r.Scope != ScopeTotal && r.Scope != ScopePerCaller {
		return fmt.Errorf("%w: unknown rate limit scope %q", ErrInvalidInput, r.Scope)
	}
	return nil
}

// Service binds a sender identity, allowed templates, recipient configuration,
// and an access token into a named target for send requests.
type Service struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	AccessToken          string         `json:"access_token"`
	Active               bool           `json:"active"`
	Unsubscribable       bool           `json:"unsubscribable"`
	AllowFromOverride    bool           `json:"allow_from_override"`
	AllowExtraRecipients bool           `json:"allow_extra_recipients"`
	JSONBodyPolicy       JSONBodyPolicy `json:"json_body_policy"`
	DefaultSenderID      uuid.UUID      `json:"default_sender_id"`
	DefaultTemplateID    *uuid.UUID     `json:"default_template_id,omitempty"`
	RateLimitID          *uuid.UUID     `json:"rate_limit_id,omitempty"`
	AllowedTemplateIDs   []uuid.UUID    `json:"allowed_template_ids"`

	// Joined rows, populated by ServiceByName.
	DefaultSender *EmailAddress `json:"default_sender,omitempty"`
	RateLimit     *RateLimit    `json:"rate_limit,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Validate enforces the service invariants: URL-safe name, a default sender,
// an access token, and allowed templates covering the default template.
func (s *Service) Validate() error {
	if !serviceNameRe.MatchString(s.Name) {
		return fmt.Errorf("%w: service name must only contain lowercase letters, numbers, and underscores", ErrInvalidInput)
	}
	if s.AccessToken == "" {
		return fmt.Errorf("%w: service access token required", ErrInvalidInput)
	}
	if s.DefaultSenderID == uuid.Nil {
		return fmt.Errorf("%w: service requires a default sender", ErrInvalidInput)
	}
	if s.JSONBodyPolicy == "" {
		s.JSONBodyPolicy = JSONBodyForbid
	}
	if !s.JSONBodyPolicy.Valid() {
		return fmt.Errorf("%w: unknown JSON body policy %q", ErrInvalidInput, s.JSONBodyPolicy)
	}
	if s.DefaultTemplateID != nil && !s.AllowsTemplate(*s.DefaultTemplateID) {
		return fmt.Errorf("%w: allowed templates must include the default template", ErrInvalidInput)
	}
	return nil
}

// AllowsTemplate reports whether the template is in the service's allowed set.
func (s *Service) AllowsTemplate(id uuid.UUID) bool {
	for _, allowed := range s.AllowedTemplateIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// RecipientSets holds the resolved To/CC/BCC addresses for a service with all
// distributions expanded.
type RecipientSets struct {
	To  []EmailAddress
	CC  []EmailAddress
	BCC []EmailAddress
}

// MessageStatus tracks a delivery log row through its lifecycle.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// Message is a delivery log row. Its ID doubles as the delivery identifier
// returned to API callers.
type Message struct {
	ID        uuid.UUID     `json:"id"`
	ServiceID uuid.UUID     `json:"service_id"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Status    MessageStatus `json:"status"`
	Error     string        `json:"error,omitempty"`

	// Final snapshot, recorded when the message is handed to the transport.
	FinalFrom    string   `json:"final_from,omitempty"`
	FinalTo      []string `json:"final_to,omitempty"`
	FinalCC      []string `json:"final_cc,omitempty"`
	FinalBCC     []string `json:"final_bcc,omitempty"`
	FinalSubject string   `json:"final_subject,omitempty"`
	FinalHTML    string   `json:"-"`
	FinalText    string   `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

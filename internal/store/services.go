package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const serviceColumns = `id, name, access_token, active, unsubscribable,
	allow_from_override, allow_extra_recipients, json_body_policy,
	default_sender_id, default_template_id, rate_limit_id, created_at`

func scanService(row interface{ Scan(...any) error }) (*Service, error) {
	var svc Service
	err := row.Scan(&svc.ID, &svc.Name, &svc.AccessToken, &svc.Active,
		&svc.Unsubscribable, &svc.AllowFromOverride, &svc.AllowExtraRecipients,
		&svc.JSONBodyPolicy, &svc.DefaultSenderID, &svc.DefaultTemplateID,
		&svc.RateLimitID, &svc.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &svc, nil
}

// CreateService inserts a service with its allowed-template set.
func (s *Store) CreateService(ctx context.Context, svc *Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO services (id, name, access_token, active, unsubscribable,
		                       allow_from_override, allow_extra_recipients,
		                       json_body_policy, default_sender_id,
		                       default_template_id, rate_limit_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		svc.ID, svc.Name, svc.AccessToken, svc.Active, svc.Unsubscribable,
		svc.AllowFromOverride, svc.AllowExtraRecipients, svc.JSONBodyPolicy,
		svc.DefaultSenderID, svc.DefaultTemplateID, svc.RateLimitID)
	if err := row.Scan(&svc.CreatedAt); err != nil {
		return wrapErr(err)
	}
	return s.replaceAllowedTemplates(ctx, svc)
}

// UpdateService replaces all editable service fields and the allowed set.
func (s *Store) UpdateService(ctx context.Context, svc *Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE services
		 SET name = $2, access_token = $3, active = $4, unsubscribable = $5,
		     allow_from_override = $6, allow_extra_recipients = $7,
		     json_body_policy = $8, default_sender_id = $9,
		     default_template_id = $10, rate_limit_id = $11
		 WHERE id = $1`,
		svc.ID, svc.Name, svc.AccessToken, svc.Active, svc.Unsubscribable,
		svc.AllowFromOverride, svc.AllowExtraRecipients, svc.JSONBodyPolicy,
		svc.DefaultSenderID, svc.DefaultTemplateID, svc.RateLimitID)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.replaceAllowedTemplates(ctx, svc)
}

func (s *Store) replaceAllowedTemplates(ctx context.Context, svc *Service) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM service_allowed_templates WHERE service_id = $1`, svc.ID); err != nil {
		return wrapErr(err)
	}
	for _, tplID := range svc.AllowedTemplateIDs {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO service_allowed_templates (service_id, template_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			svc.ID, tplID); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// ServiceByID fetches a service without joined rows.
func (s *Store) ServiceByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadAllowedTemplates(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// ServiceByName fetches a service by name with its default sender, rate limit,
// and allowed-template set joined in. This is the dispatch-path lookup.
func (s *Store) ServiceByName(ctx context.Context, name string) (*Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE name = $1`, name))
	if err != nil {
		return nil, err
	}

	sender, err := s.AddressByID(ctx, svc.DefaultSenderID)
	if err != nil {
		return nil, err
	}
	svc.DefaultSender = sender

	if svc.RateLimitID != nil {
		rl, err := s.RateLimitByID(ctx, *svc.RateLimitID)
		if err != nil {
			return nil, err
		}
		svc.RateLimit = rl
	}

	if err := s.loadAllowedTemplates(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Store) loadAllowedTemplates(ctx context.Context, svc *Service) error {
	rows, err := s.pool.Query(ctx,
		`SELECT template_id FROM service_allowed_templates WHERE service_id = $1`, svc.ID)
	if err != nil {
		return wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return wrapErr(err)
		}
		svc.AllowedTemplateIDs = append(svc.AllowedTemplateIDs, id)
	}
	return wrapErr(rows.Err())
}

// ListServices returns all services ordered by name, without joined rows.
func (s *Store) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, wrapErr(rows.Err())
}

// DeleteService removes a service and its join rows.
func (s *Store) DeleteService(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ServiceRecipients resolves the service's configured To/CC/BCC sets with all
// distributions expanded and duplicates removed.
func (s *Store) ServiceRecipients(ctx context.Context, serviceID uuid.UUID) (*RecipientSets, error) {
	sets := &RecipientSets{}
	for _, kind := range []string{"to", "cc", "bcc"} {
		addrs, err := s.serviceRecipientsByKind(ctx, serviceID, kind)
		if err != nil {
			return nil, err
		}
		switch kind {
		case "to":
			sets.To = addrs
		case "cc":
			sets.CC = addrs
		case "bcc":
			sets.BCC = addrs
		}
	}
	return sets, nil
}

func (s *Store) serviceRecipientsByKind(ctx context.Context, serviceID uuid.UUID, kind string) ([]EmailAddress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.address, a.display_name, a.unsubscribed_all, a.created_at
		 FROM service_recipients sr
		 JOIN email_addresses a ON a.id = sr.address_id
		 WHERE sr.service_id = $1 AND sr.kind = $2
		 ORDER BY a.address`,
		serviceID, kind)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var addrs []EmailAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	distRows, err := s.pool.Query(ctx,
		`SELECT distribution_id FROM service_recipient_distributions
		 WHERE service_id = $1 AND kind = $2`,
		serviceID, kind)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer distRows.Close()

	var distIDs []uuid.UUID
	for distRows.Next() {
		var id uuid.UUID
		if err := distRows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		distIDs = append(distIDs, id)
	}
	if err := distRows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	for _, distID := range distIDs {
		expanded, err := s.ExpandDistribution(ctx, distID)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, expanded...)
	}

	return dedupeAddresses(addrs), nil
}

// SetServiceRecipients replaces the configured address and distribution sets
// for one kind ("to", "cc", or "bcc").
func (s *Store) SetServiceRecipients(ctx context.Context, serviceID uuid.UUID, kind string, addressIDs, distributionIDs []uuid.UUID) error {
	if kind != "to" && kind != "cc" && kind != "bcc" {
		return ErrInvalidInput
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM service_recipients WHERE service_id = $1 AND kind = $2`,
		serviceID, kind); err != nil {
		return wrapErr(err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM service_recipient_distributions WHERE service_id = $1 AND kind = $2`,
		serviceID, kind); err != nil {
		return wrapErr(err)
	}

	for _, id := range addressIDs {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO service_recipients (service_id, address_id, kind)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			serviceID, id, kind); err != nil {
			return wrapErr(err)
		}
	}
	for _, id := range distributionIDs {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO service_recipient_distributions (service_id, distribution_id, kind)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			serviceID, id, kind); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// RateLimitByID fetches a rate limit definition.
func (s *Store) RateLimitByID(ctx context.Context, id uuid.UUID) (*RateLimit, error) {
	var (
		rl      RateLimit
		seconds int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, quantity, window_seconds, strategy, scope
		 FROM rate_limits WHERE id = $1`, id).
		Scan(&rl.ID, &rl.Name, &rl.Quantity, &seconds, &rl.Strategy, &rl.Scope)
	if err != nil {
		return nil, wrapErr(err)
	}
	rl.Window = time.Duration(seconds) * time.Second
	return &rl, nil
}

// CreateRateLimit inserts a rate limit definition.
func (s *Store) CreateRateLimit(ctx context.Context, rl *RateLimit) error {
	if err := rl.Validate(); err != nil {
		return err
	}
	if rl.ID == uuid.Nil {
		rl.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_limits (id, name, quantity, window_seconds, strategy, scope)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rl.ID, rl.Name, rl.Quantity, int64(rl.Window/time.Second), rl.Strategy, rl.Scope)
	return wrapErr(err)
}

// UpdateRateLimit replaces a rate limit definition.
func (s *Store) UpdateRateLimit(ctx context.Context, rl *RateLimit) error {
	if err := rl.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rate_limits
		 SET name = $2, quantity = $3, window_seconds = $4, strategy = $5, scope = $6
		 WHERE id = $1`,
		rl.ID, rl.Name, rl.Quantity, int64(rl.Window/time.Second), rl.Strategy, rl.Scope)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRateLimits returns all rate limit definitions ordered by name.
func (s *Store) ListRateLimits(ctx context.Context) ([]RateLimit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, quantity, window_seconds, strategy, scope
		 FROM rate_limits ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []RateLimit
	for rows.Next() {
		var (
			rl      RateLimit
			seconds int64
		)
		if err := rows.Scan(&rl.ID, &rl.Name, &rl.Quantity, &seconds, &rl.Strategy, &rl.Scope); err != nil {
			return nil, wrapErr(err)
		}
		rl.Window = time.Duration(seconds) * time.Second
		out = append(out, rl)
	}
	return out, wrapErr(rows.Err())
}

// DeleteRateLimit removes a rate limit definition. Services referencing it
// fall back to unlimited (FK SET NULL).
func (s *Store) DeleteRateLimit(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

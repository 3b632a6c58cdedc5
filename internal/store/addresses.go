package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const addressColumns = `id, address, display_name, unsubscribed_all, created_at`

func scanAddress(row interface{ Scan(...any) error }) (*EmailAddress, error) {
	var a EmailAddress
	if err := row.Scan(&a.ID, &a.Address, &a.DisplayName, &a.UnsubscribedAll, &a.CreatedAt); err != nil {
		return nil, wrapErr(err)
	}
	return &a, nil
}

// CreateAddress inserts a new email address, normalizing it first.
func (s *Store) CreateAddress(ctx context.Context, a *EmailAddress) error {
	normalized, err := NormalizeAddress(a.Address)
	if err != nil {
		return err
	}
	a.Address = normalized
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO email_addresses (id, address, display_name, unsubscribed_all)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.Address, a.DisplayName, a.UnsubscribedAll)
	if err := row.Scan(&a.CreatedAt); err != nil {
		return wrapErr(err)
	}
	return nil
}

// AddressByID fetches an address row.
func (s *Store) AddressByID(ctx context.Context, id uuid.UUID) (*EmailAddress, error) {
	return scanAddress(s.pool.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM email_addresses WHERE id = $1`, id))
}

// AddressByEmail fetches an address row by its normalized address string.
func (s *Store) AddressByEmail(ctx context.Context, address string) (*EmailAddress, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return scanAddress(s.pool.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM email_addresses WHERE address = $1`, normalized))
}

// GetOrCreateAddress returns the row for an address string, creating it on
// first sight. Used when send requests carry previously unseen recipients.
func (s *Store) GetOrCreateAddress(ctx context.Context, address string) (*EmailAddress, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO email_addresses (id, address)
		 VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		 RETURNING `+addressColumns,
		uuid.New(), normalized)
	return scanAddress(row)
}

// ListAddresses returns all addresses ordered by address string.
func (s *Store) ListAddresses(ctx context.Context) ([]EmailAddress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+addressColumns+` FROM email_addresses ORDER BY address`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []EmailAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, wrapErr(rows.Err())
}

// UpdateAddress updates display name and unsubscribe flags. The address string
// itself is immutable once any service or distribution references the row.
func (s *Store) UpdateAddress(ctx context.Context, a *EmailAddress) error {
	normalized, err := NormalizeAddress(a.Address)
	if err != nil {
		return err
	}
	a.Address = normalized

	current, err := s.AddressByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if current.Address != a.Address {
		referenced, err := s.addressReferenced(ctx, a.ID)
		if err != nil {
			return err
		}
		if referenced {
			return ErrReferenced
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE email_addresses
		 SET address = $2, display_name = $3, unsubscribed_all = $4
		 WHERE id = $1`,
		a.ID, a.Address, a.DisplayName, a.UnsubscribedAll)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAddress removes an address. Rejected while referenced by a service or
// distribution (FK RESTRICT surfaces as ErrReferenced).
func (s *Store) DeleteAddress(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM email_addresses WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) addressReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM services WHERE default_sender_id = $1)
		     OR EXISTS (SELECT 1 FROM service_recipients WHERE address_id = $1)
		     OR EXISTS (SELECT 1 FROM distribution_addresses WHERE address_id = $1)`,
		id).Scan(&referenced)
	return referenced, wrapErr(err)
}

// Unsubscribe records that an address opted out of a single service.
func (s *Store) Unsubscribe(ctx context.Context, addressID, serviceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO service_unsubscriptions (address_id, service_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		addressID, serviceID)
	return wrapErr(err)
}

// FilterUnsubscribed drops addresses that are unsubscribed globally or from
// the given service. The input order is preserved.
func (s *Store) FilterUnsubscribed(ctx context.Context, serviceID uuid.UUID, addrs []EmailAddress) ([]EmailAddress, error) {
	if len(addrs) == 0 {
		return addrs, nil
	}

	ids := make([]uuid.UUID, 0, len(addrs))
	for _, a := range addrs {
		if !a.UnsubscribedAll {
			ids = append(ids, a.ID)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT address_id FROM service_unsubscriptions
		 WHERE service_id = $1 AND address_id = ANY($2)`,
		serviceID, ids)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	unsubscribed := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		unsubscribed[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	out := make([]EmailAddress, 0, len(addrs))
	for _, a := range addrs {
		if a.UnsubscribedAll {
			continue
		}
		if _, ok := unsubscribed[a.ID]; ok {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// dedupeAddresses removes duplicate rows by normalized address, keeping the
// first occurrence.
func dedupeAddresses(addrs []EmailAddress) []EmailAddress {
	seen := make(map[string]struct{}, len(addrs))
	out := addrs[:0]
	for _, a := range addrs {
		key := strings.ToLower(a.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

package store

import (
	"context"

	"github.com/google/uuid"
)

// CreateDistribution inserts a distribution with its member sets.
func (s *Store) CreateDistribution(ctx context.Context, d *Distribution) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO distributions (id, name) VALUES ($1, $2)`, d.ID, d.Name); err != nil {
		return wrapErr(err)
	}
	return s.replaceDistributionMembers(ctx, d)
}

// UpdateDistribution replaces a distribution's name and member sets.
func (s *Store) UpdateDistribution(ctx context.Context, d *Distribution) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE distributions SET name = $2 WHERE id = $1`, d.ID, d.Name)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.replaceDistributionMembers(ctx, d)
}

func (s *Store) replaceDistributionMembers(ctx context.Context, d *Distribution) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM distribution_addresses WHERE distribution_id = $1`, d.ID); err != nil {
		return wrapErr(err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM distribution_children WHERE distribution_id = $1`, d.ID); err != nil {
		return wrapErr(err)
	}

	for _, addrID := range d.AddressIDs {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO distribution_addresses (distribution_id, address_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			d.ID, addrID); err != nil {
			return wrapErr(err)
		}
	}
	for _, childID := range d.DistributionIDs {
		if childID == d.ID {
			continue // direct self-reference; deeper cycles are handled at expansion time
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO distribution_children (distribution_id, child_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			d.ID, childID); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// DistributionByID fetches a distribution with its member ID sets.
func (s *Store) DistributionByID(ctx context.Context, id uuid.UUID) (*Distribution, error) {
	var d Distribution
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM distributions WHERE id = $1`, id).Scan(&d.ID, &d.Name)
	if err != nil {
		return nil, wrapErr(err)
	}

	if err := s.loadDistributionMembers(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) loadDistributionMembers(ctx context.Context, d *Distribution) error {
	rows, err := s.pool.Query(ctx,
		`SELECT address_id FROM distribution_addresses WHERE distribution_id = $1`, d.ID)
	if err != nil {
		return wrapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return wrapErr(err)
		}
		d.AddressIDs = append(d.AddressIDs, id)
	}
	if err := rows.Err(); err != nil {
		return wrapErr(err)
	}

	children, err := s.pool.Query(ctx,
		`SELECT child_id FROM distribution_children WHERE distribution_id = $1`, d.ID)
	if err != nil {
		return wrapErr(err)
	}
	defer children.Close()
	for children.Next() {
		var id uuid.UUID
		if err := children.Scan(&id); err != nil {
			return wrapErr(err)
		}
		d.DistributionIDs = append(d.DistributionIDs, id)
	}
	return wrapErr(children.Err())
}

// ListDistributions returns all distributions with member sets.
func (s *Store) ListDistributions(ctx context.Context) ([]Distribution, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM distributions ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Distribution
	for rows.Next() {
		var d Distribution
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	for i := range out {
		if err := s.loadDistributionMembers(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteDistribution removes a distribution. Rejected while a service
// references it.
func (s *Store) DeleteDistribution(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM distributions WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpandDistribution collects all member addresses recursively. Visited
// distributions are tracked so membership cycles terminate.
func (s *Store) ExpandDistribution(ctx context.Context, id uuid.UUID) ([]EmailAddress, error) {
	visited := make(map[uuid.UUID]struct{})
	addrs, err := s.expandDistribution(ctx, id, visited)
	if err != nil {
		return nil, err
	}
	return dedupeAddresses(addrs), nil
}

func (s *Store) expandDistribution(ctx context.Context, id uuid.UUID, visited map[uuid.UUID]struct{}) ([]EmailAddress, error) {
	if _, ok := visited[id]; ok {
		return nil, nil
	}
	visited[id] = struct{}{}

	d, err := s.DistributionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var out []EmailAddress
	for _, addrID := range d.AddressIDs {
		a, err := s.AddressByID(ctx, addrID)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	for _, childID := range d.DistributionIDs {
		nested, err := s.expandDistribution(ctx, childID, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

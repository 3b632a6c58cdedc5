package store

import (
	"context"

	"github.com/google/uuid"
)

const templateColumns = `id, name, subject, body_html, body_plaintext, format,
	autogenerate_plaintext, extends_id, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.BodyHTML, &t.BodyPlaintext,
		&t.Format, &t.AutogeneratePlaintext, &t.ExtendsID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &t, nil
}

// CreateTemplate inserts a template row.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, name, subject, body_html, body_plaintext, format,
		                        autogenerate_plaintext, extends_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Subject, t.BodyHTML, t.BodyPlaintext, t.Format,
		t.AutogeneratePlaintext, t.ExtendsID)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return nil
}

// UpsertTemplate inserts or replaces a template row by name.
// Used by the seed importer.
func (s *Store) UpsertTemplate(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, name, subject, body_html, body_plaintext, format,
		                        autogenerate_plaintext, extends_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
		     subject = EXCLUDED.subject,
		     body_html = EXCLUDED.body_html,
		     body_plaintext = EXCLUDED.body_plaintext,
		     format = EXCLUDED.format,
		     autogenerate_plaintext = EXCLUDED.autogenerate_plaintext,
		     extends_id = EXCLUDED.extends_id,
		     updated_at = now()
		 RETURNING id, created_at, updated_at`,
		t.ID, t.Name, t.Subject, t.BodyHTML, t.BodyPlaintext, t.Format,
		t.AutogeneratePlaintext, t.ExtendsID)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return nil
}

// TemplateByID fetches a template row.
func (s *Store) TemplateByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	return scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
}

// TemplateByName fetches a template row by its unique name.
func (s *Store) TemplateByName(ctx context.Context, name string) (*Template, error) {
	return scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE name = $1`, name))
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, wrapErr(rows.Err())
}

// UpdateTemplate replaces all editable template fields.
func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE templates
		 SET name = $2, subject = $3, body_html = $4, body_plaintext = $5,
		     format = $6, autogenerate_plaintext = $7, extends_id = $8,
		     updated_at = now()
		 WHERE id = $1`,
		t.ID, t.Name, t.Subject, t.BodyHTML, t.BodyPlaintext, t.Format,
		t.AutogeneratePlaintext, t.ExtendsID)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Rejected while a service's allowed set
// references it.
func (s *Store) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	var referenced bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM service_allowed_templates WHERE template_id = $1)
		     OR EXISTS (SELECT 1 FROM services WHERE default_template_id = $1)
		     OR EXISTS (SELECT 1 FROM templates WHERE extends_id = $1)`,
		id).Scan(&referenced)
	if err != nil {
		return wrapErr(err)
	}
	if referenced {
		return ErrReferenced
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

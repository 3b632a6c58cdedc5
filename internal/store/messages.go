package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, service_id, subject, body, status, error,
	final_from, final_to, final_cc, final_bcc, final_subject, final_html, final_text,
	created_at, attempted_at, sent_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ServiceID, &m.Subject, &m.Body, &m.Status, &m.Error,
		&m.FinalFrom, &m.FinalTo, &m.FinalCC, &m.FinalBCC, &m.FinalSubject,
		&m.FinalHTML, &m.FinalText, &m.CreatedAt, &m.AttemptedAt, &m.SentAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &m, nil
}

// CreateMessage logs an accepted send request before any delivery attempt.
// The row ID doubles as the delivery identifier returned to the caller.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MessagePending
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, service_id, subject, body, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		m.ID, m.ServiceID, m.Subject, m.Body, m.Status)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return wrapErr(err)
	}
	return nil
}

// MarkMessageSent records a successful delivery with the final snapshot of
// what was handed to the transport.
func (s *Store) MarkMessageSent(ctx context.Context, m *Message) error {
	now := time.Now()
	m.Status = MessageSent
	m.Error = ""
	m.AttemptedAt = &now
	m.SentAt = &now
	return s.updateMessageOutcome(ctx, m)
}

// MarkMessageFailed records a failed delivery attempt. The snapshot is still
// written so a later flush can resend the exact same content.
func (s *Store) MarkMessageFailed(ctx context.Context, m *Message, sendErr error) error {
	now := time.Now()
	m.Status = MessageFailed
	if sendErr != nil {
		m.Error = sendErr.Error()
	}
	m.AttemptedAt = &now
	m.SentAt = nil
	return s.updateMessageOutcome(ctx, m)
}

func (s *Store) updateMessageOutcome(ctx context.Context, m *Message) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET status = $2, error = $3,
		     final_from = $4, final_to = $5, final_cc = $6, final_bcc = $7,
		     final_subject = $8, final_html = $9, final_text = $10,
		     attempted_at = $11, sent_at = $12
		 WHERE id = $1`,
		m.ID, m.Status, m.Error,
		m.FinalFrom, m.FinalTo, m.FinalCC, m.FinalBCC,
		m.FinalSubject, m.FinalHTML, m.FinalText,
		m.AttemptedAt, m.SentAt)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MessageByID fetches a delivery log row.
func (s *Store) MessageByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

// ListMessages returns the most recent delivery log rows, newest first.
// A zero serviceID lists across all services.
func (s *Store) ListMessages(ctx context.Context, serviceID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if serviceID == uuid.Nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages
			 ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE service_id = $1
			 ORDER BY created_at DESC LIMIT $2`, serviceID, limit)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, wrapErr(rows.Err())
}

// UnsentMessageIDs lists pending and failed messages oldest first, for the
// flush command.
func (s *Store) UnsentMessageIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM messages
		 WHERE status IN ('pending', 'failed')
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr(rows.Err())
}

// ClaimUnsentMessage locks one unsent message row inside the transaction so
// concurrent flush workers never resend the same message. Returns ErrNotFound
// when the row was already claimed or sent.
func (s *Store) ClaimUnsentMessage(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Message, error) {
	return scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE id = $1 AND status IN ('pending', 'failed')
		 FOR UPDATE SKIP LOCKED`, id))
}

// FinishClaimedMessage writes the delivery outcome for a row claimed by
// ClaimUnsentMessage within the same transaction.
func (s *Store) FinishClaimedMessage(ctx context.Context, tx pgx.Tx, m *Message, sendErr error) error {
	now := time.Now()
	m.AttemptedAt = &now
	if sendErr != nil {
		m.Status = MessageFailed
		m.Error = sendErr.Error()
		m.SentAt = nil
	} else {
		m.Status = MessageSent
		m.Error = ""
		m.SentAt = &now
	}

	tag, err := tx.Exec(ctx,
		`UPDATE messages
		 SET status = $2, error = $3,
		     final_from = $4, final_to = $5, final_cc = $6, final_bcc = $7,
		     final_subject = $8, final_html = $9, final_text = $10,
		     attempted_at = $11, sent_at = $12
		 WHERE id = $1`,
		m.ID, m.Status, m.Error,
		m.FinalFrom, m.FinalTo, m.FinalCC, m.FinalBCC,
		m.FinalSubject, m.FinalHTML, m.FinalText,
		m.AttemptedAt, m.SentAt)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

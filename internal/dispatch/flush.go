package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/db"
	"github.com/impresshq/impress/pkg/mailer"
)

// FlushStats summarizes one flush run.
type FlushStats struct {
	Sent    int64
	Failed  int64
	Skipped int64
}

// Flusher re-dispatches pending and failed message rows. Each row is claimed
// with a row-level lock inside its own transaction, so concurrent flush runs
// never double-send.
type Flusher struct {
	store      *store.Store
	dispatcher *Dispatcher
	sender     mailer.Sender
	log        *slog.Logger
	workers    int
}

// NewFlusher creates a Flusher sharing the dispatcher's backend and renderer.
func NewFlusher(st *store.Store, d *Dispatcher, sender mailer.Sender, workers int, log *slog.Logger) *Flusher {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Flusher{store: st, dispatcher: d, sender: sender, log: log, workers: workers}
}

// Flush attempts delivery for every unsent message. Per-row failures are
// counted, not fatal; the run only aborts on context cancellation.
func (f *Flusher) Flush(ctx context.Context) (FlushStats, error) {
	ids, err := f.store.UnsentMessageIDs(ctx, 0)
	if err != nil {
		return FlushStats{}, err
	}

	var sent, failed, skipped atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch outcome := f.flushOne(ctx, id); outcome {
			case flushSent:
				sent.Add(1)
			case flushFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return FlushStats{Sent: sent.Load(), Failed: failed.Load(), Skipped: skipped.Load()}, err
}

type flushOutcome int

const (
	flushSkipped flushOutcome = iota
	flushSent
	flushFailed
)

func (f *Flusher) flushOne(ctx context.Context, id uuid.UUID) flushOutcome {
	outcome := flushSkipped

	err := db.WithTx(ctx, f.store.Pool(), func(tx pgx.Tx) error {
		m, err := f.store.ClaimUnsentMessage(ctx, tx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Claimed by a concurrent flush or already sent.
			return nil
		}
		if err != nil {
			return err
		}

		email, err := f.emailFor(ctx, m)
		if err != nil {
			outcome = flushFailed
			return f.store.FinishClaimedMessage(ctx, tx, m, err)
		}

		sendErr := f.sender.Send(ctx, email)
		if sendErr != nil {
			outcome = flushFailed
		} else {
			outcome = flushSent
		}
		return f.store.FinishClaimedMessage(ctx, tx, m, sendErr)
	})
	if err != nil {
		f.log.ErrorContext(ctx, "flush failed for message",
			slog.String("message_id", id.String()), slog.Any("error", err))
		return flushFailed
	}
	return outcome
}

// emailFor rebuilds the outgoing email for a claimed row. Rows that rendered
// before a failed send carry a final snapshot and are resent verbatim; rows
// that never rendered are prepared again from the stored request against the
// service's current configuration.
func (f *Flusher) emailFor(ctx context.Context, m *store.Message) (*mailer.Email, error) {
	if m.FinalFrom != "" {
		return &mailer.Email{
			From:    m.FinalFrom,
			Subject: m.FinalSubject,
			HTML:    m.FinalHTML,
			Text:    m.FinalText,
			To:      m.FinalTo,
			CC:      m.FinalCC,
			BCC:     m.FinalBCC,
		}, nil
	}

	svc, err := f.store.ServiceByID(ctx, m.ServiceID)
	if err != nil {
		return nil, err
	}
	sender, err := f.store.AddressByID(ctx, svc.DefaultSenderID)
	if err != nil {
		return nil, err
	}
	svc.DefaultSender = sender

	req := &Request{Subject: m.Subject, Body: m.Body}
	return f.dispatcher.prepare(ctx, svc, req, m)
}

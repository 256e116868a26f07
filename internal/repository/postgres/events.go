package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"chainintel/internal/domain/event"
	"chainintel/pkg/errors"
)

// Compile-time check
var _ event.Repository = (*EventRepository)(nil)

// EventRepository implements event.Repository using sqlx.
// The normalized event and its report are stored as JSONB next to the
// indexed columns used for lookups.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

type eventRow struct {
	Event    []byte `db:"event"`
	Report   []byte `db:"report"`
	Source   string `db:"source"`
	Notified bool   `db:"notified"`
}

func (row eventRow) toStored() (*event.Stored, error) {
	stored := &event.Stored{Source: event.Source(row.Source), Notified: row.Notified}
	if err := json.Unmarshal(row.Event, &stored.Event); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	if len(row.Report) > 0 {
		if err := json.Unmarshal(row.Report, &stored.Report); err != nil {
			return nil, errors.Wrap(err, "decode report")
		}
	}
	return stored, nil
}

// Upsert writes the composite; a later write for the same (chain, tx, log index) replaces it
func (r *EventRepository) Upsert(ctx context.Context, stored *event.Stored) error {
	if stored == nil || stored.Event == nil {
		return errors.NewValidationError("event", "stored event is required", nil)
	}
	ev := stored.Event

	evJSON, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	var (
		reportJSON []byte
		score      *float64
		level      *string
	)
	if stored.Report != nil {
		if reportJSON, err = json.Marshal(stored.Report); err != nil {
			return errors.Wrap(err, "encode report")
		}
		s, l := stored.Report.Score, string(stored.Report.Level)
		score, level = &s, &l
	}

	query := `
		INSERT INTO events (
			trace_id, chain_id, block_number, tx_hash, log_index,
			kind, from_address, to_address, value,
			score, level, source, notified,
			event, report, event_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (chain_id, tx_hash, log_index) DO UPDATE SET
			trace_id = $1,
			kind = $6,
			value = $9,
			score = $10,
			level = $11,
			source = $12,
			notified = events.notified OR $13,
			event = $14,
			report = $15,
			updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query,
		ev.TraceID, ev.ChainID, int64(ev.BlockNumber), ev.TxHash, int64(ev.LogIndex),
		string(ev.Kind), ev.From, ev.To, ev.Value,
		score, level, string(stored.Source), stored.Notified,
		evJSON, reportJSON, ev.EventTime,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert event %s", ev.TxHash)
	}
	return nil
}

// FindByTxHash returns every stored log of a transaction, in log order
func (r *EventRepository) FindByTxHash(ctx context.Context, chainID int64, txHash string) ([]*event.Stored, error) {
	var rows []eventRow

	query := `
		SELECT event, report, source, notified FROM events
		WHERE chain_id = $1 AND tx_hash = $2
		ORDER BY log_index`

	if err := r.db.SelectContext(ctx, &rows, query, chainID, txHash); err != nil {
		return nil, errors.Wrapf(err, "find events by tx %s", txHash)
	}

	out := make([]*event.Stored, 0, len(rows))
	for _, row := range rows {
		stored, err := row.toStored()
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// RecentBySender returns the sender's events at or after since, newest first
func (r *EventRepository) RecentBySender(ctx context.Context, chainID int64, from string, since time.Time, limit int) ([]*event.NormalizedEvent, error) {
	var payloads [][]byte

	query := `
		SELECT event FROM events
		WHERE chain_id = $1 AND from_address = $2 AND event_time >= $3
		ORDER BY event_time DESC
		LIMIT $4`

	if err := r.db.SelectContext(ctx, &payloads, query, chainID, from, since, limit); err != nil {
		return nil, errors.Wrapf(err, "recent events of %s", from)
	}

	out := make([]*event.NormalizedEvent, 0, len(payloads))
	for _, raw := range payloads {
		var ev event.NormalizedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, errors.Wrap(err, "decode event")
		}
		out = append(out, &ev)
	}
	return out, nil
}

// WithTx returns a repository bound to the transaction
func (r *EventRepository) WithTx(tx *sqlx.Tx) *EventRepository {
	return &EventRepository{db: tx}
}

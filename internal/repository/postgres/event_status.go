package postgres

import (
	"context"
	"database/sql"
	"time"

	"chainintel/internal/domain/eventstatus"
	"chainintel/pkg/errors"
)

// Compile-time check
var _ eventstatus.Repository = (*EventStatusRepository)(nil)

// EventStatusRepository is the idempotency ledger. Claims are conditional
// updates so at most one handler moves a record into Processing.
type EventStatusRepository struct {
	db DBTX
}

// NewEventStatusRepository creates a new event status repository
func NewEventStatusRepository(db DBTX) *EventStatusRepository {
	return &EventStatusRepository{db: db}
}

// Get returns errors.ErrNotFound when no record exists
func (r *EventStatusRepository) Get(ctx context.Context, chainID int64, txHash string) (*eventstatus.Record, error) {
	var rec eventstatus.Record

	query := `SELECT * FROM event_status WHERE chain_id = $1 AND tx_hash = $2`

	err := r.db.GetContext(ctx, &rec, query, chainID, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "event status chain_id=%d tx=%s", chainID, txHash)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get event status tx=%s", txHash)
	}
	return &rec, nil
}

// InsertIfAbsent creates a Pending record; false means another handler inserted first
func (r *EventStatusRepository) InsertIfAbsent(ctx context.Context, rec *eventstatus.Record) (bool, error) {
	query := `
		INSERT INTO event_status (chain_id, tx_hash, status, source, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, tx_hash) DO NOTHING`

	var payload []byte
	if len(rec.Payload) > 0 {
		payload = rec.Payload
	}

	res, err := r.db.ExecContext(ctx, query, rec.ChainID, rec.TxHash, string(eventstatus.StatusPending), rec.Source, payload)
	if err != nil {
		return false, errors.Wrapf(err, "insert event status tx=%s", rec.TxHash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// Claim moves Pending or Failed to Processing; false means the claim was lost.
// Records that failed validation are never claimed again.
func (r *EventStatusRepository) Claim(ctx context.Context, chainID int64, txHash string) (bool, error) {
	query := `
		UPDATE event_status SET status = $3, updated_at = NOW()
		WHERE chain_id = $1 AND tx_hash = $2 AND status IN ($4, $5)
			AND NOT (status = $5 AND COALESCE(last_error, '') LIKE $6)`

	res, err := r.db.ExecContext(ctx, query, chainID, txHash,
		string(eventstatus.StatusProcessing),
		string(eventstatus.StatusPending), string(eventstatus.StatusFailed),
		eventstatus.InvalidPrefix+"%",
	)
	if err != nil {
		return false, errors.Wrapf(err, "claim event tx=%s", txHash)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// MarkSucceeded sets a terminal status (Success or Alerted)
func (r *EventStatusRepository) MarkSucceeded(ctx context.Context, chainID int64, txHash string, status eventstatus.Status) error {
	if !status.Terminal() {
		return errors.NewValidationError("status", "terminal status required", status)
	}

	query := `
		UPDATE event_status SET status = $3, last_error = NULL, updated_at = NOW()
		WHERE chain_id = $1 AND tx_hash = $2`

	if _, err := r.db.ExecContext(ctx, query, chainID, txHash, string(status)); err != nil {
		return errors.Wrapf(err, "mark event %s tx=%s", status, txHash)
	}
	return nil
}

// MarkFailed sets Failed, increments the retry count and records the message
func (r *EventStatusRepository) MarkFailed(ctx context.Context, chainID int64, txHash string, message string) error {
	query := `
		UPDATE event_status SET
			status = $3,
			retry_count = retry_count + 1,
			last_error = $4,
			updated_at = NOW()
		WHERE chain_id = $1 AND tx_hash = $2`

	if _, err := r.db.ExecContext(ctx, query, chainID, txHash, string(eventstatus.StatusFailed), message); err != nil {
		return errors.Wrapf(err, "mark event failed tx=%s", txHash)
	}
	return nil
}

// RequeueStale moves Processing records untouched for olderThan to Failed,
// counting the abandoned attempt as a retry
func (r *EventStatusRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE event_status SET
			status = $1,
			retry_count = retry_count + 1,
			last_error = $2,
			updated_at = NOW()
		WHERE status = $3 AND updated_at < NOW() - make_interval(secs => $4)`

	res, err := r.db.ExecContext(ctx, query,
		string(eventstatus.StatusFailed), eventstatus.StaleMessage,
		string(eventstatus.StatusProcessing), olderThan.Seconds(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "requeue stale events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

// ListFailed returns Failed records with retry_count below maxRetries, oldest first
func (r *EventStatusRepository) ListFailed(ctx context.Context, maxRetries, limit int) ([]*eventstatus.Record, error) {
	var records []*eventstatus.Record

	query := `
		SELECT * FROM event_status
		WHERE status = $1 AND retry_count < $2
		ORDER BY updated_at
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &records, query, string(eventstatus.StatusFailed), maxRetries, limit); err != nil {
		return nil, errors.Wrap(err, "list failed events")
	}
	return records, nil
}

// CountByStatus returns the number of records per status, zero-filled
func (r *EventStatusRepository) CountByStatus(ctx context.Context) (map[eventstatus.Status]int64, error) {
	var rows []struct {
		Status eventstatus.Status `db:"status"`
		Count  int64              `db:"count"`
	}

	query := `SELECT status, COUNT(*) AS count FROM event_status GROUP BY status`

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "count event status")
	}

	counts := make(map[eventstatus.Status]int64, len(eventstatus.AllStatuses()))
	for _, s := range eventstatus.AllStatuses() {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

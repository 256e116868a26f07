package postgres

import (
	"context"

	"chainintel/internal/domain/replay"
	"chainintel/pkg/errors"
)

// Compile-time check
var _ replay.Repository = (*ReplayJobRepository)(nil)

// ReplayJobRepository keeps one row per replay attempt
type ReplayJobRepository struct {
	db DBTX
}

// NewReplayJobRepository creates a new replay job repository
func NewReplayJobRepository(db DBTX) *ReplayJobRepository {
	return &ReplayJobRepository{db: db}
}

// Create inserts a running job
func (r *ReplayJobRepository) Create(ctx context.Context, job *replay.Job) error {
	query := `
		INSERT INTO replay_jobs (
			id, chain_id, start_block, end_block, status,
			processed_events, high_risk_events, failed_events,
			attempt, error, started_at, finished_at, duration_ms
		) VALUES (
			:id, :chain_id, :start_block, :end_block, :status,
			:processed_events, :high_risk_events, :failed_events,
			:attempt, :error, :started_at, :finished_at, :duration_ms
		)`

	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return errors.Wrapf(err, "create replay job %d-%d", job.StartBlock, job.EndBlock)
	}
	return nil
}

// Update writes the outcome of a finished attempt
func (r *ReplayJobRepository) Update(ctx context.Context, job *replay.Job) error {
	query := `
		UPDATE replay_jobs SET
			status = :status,
			processed_events = :processed_events,
			high_risk_events = :high_risk_events,
			failed_events = :failed_events,
			error = :error,
			finished_at = :finished_at,
			duration_ms = :duration_ms
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return errors.Wrapf(err, "update replay job %s", job.ID)
	}
	return nil
}

// ListRecent returns the chain's latest jobs, newest first
func (r *ReplayJobRepository) ListRecent(ctx context.Context, chainID int64, limit int) ([]*replay.Job, error) {
	var jobs []*replay.Job

	query := `
		SELECT * FROM replay_jobs
		WHERE chain_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &jobs, query, chainID, limit); err != nil {
		return nil, errors.Wrap(err, "list replay jobs")
	}
	return jobs, nil
}

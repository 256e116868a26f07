package replay

import (
	"time"

	"github.com/google/uuid"
)

// Status of a replay job
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Job records one replay attempt over a block range
type Job struct {
	ID         uuid.UUID  `db:"id"`
	ChainID    int64      `db:"chain_id"`
	StartBlock uint64     `db:"start_block"`
	EndBlock   uint64     `db:"end_block"`
	Status     Status     `db:"status"`
	Processed  int        `db:"processed_events"`
	HighRisk   int        `db:"high_risk_events"`
	Failed     int        `db:"failed_events"`
	Attempt    int        `db:"attempt"`
	Error      *string    `db:"error"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	DurationMs int64      `db:"duration_ms"`
}

// NewJob starts a running job
func NewJob(chainID int64, start, end uint64, attempt int) *Job {
	return &Job{
		ID:         uuid.New(),
		ChainID:    chainID,
		StartBlock: start,
		EndBlock:   end,
		Status:     StatusRunning,
		Attempt:    attempt,
		StartedAt:  time.Now().UTC(),
	}
}

// Finish closes the job with the outcome of the attempt
func (j *Job) Finish(err error) {
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.DurationMs = now.Sub(j.StartedAt).Milliseconds()
	if err != nil {
		msg := err.Error()
		j.Error = &msg
		j.Status = StatusFailed
		return
	}
	j.Status = StatusSuccess
}

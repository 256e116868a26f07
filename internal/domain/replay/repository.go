package replay

import "context"

// Repository persists replay jobs
type Repository interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	ListRecent(ctx context.Context, chainID int64, limit int) ([]*Job, error)
}

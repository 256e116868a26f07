package eventstatus

import (
	"context"
	"time"
)

// Repository is the idempotency ledger
type Repository interface {
	// Get returns errors.ErrNotFound when no record exists
	Get(ctx context.Context, chainID int64, txHash string) (*Record, error)
	// InsertIfAbsent creates a Pending record; false means another handler inserted first
	InsertIfAbsent(ctx context.Context, rec *Record) (bool, error)
	// Claim moves Pending or Failed to Processing; false means the claim was lost.
	// A record that failed validation is not claimable.
	Claim(ctx context.Context, chainID int64, txHash string) (bool, error)
	// MarkSucceeded sets a terminal status (Success or Alerted)
	MarkSucceeded(ctx context.Context, chainID int64, txHash string, status Status) error
	// MarkFailed sets Failed, increments the retry count and records the message
	MarkFailed(ctx context.Context, chainID int64, txHash string, message string) error
	// RequeueStale moves Processing records not updated for olderThan to Failed
	// and returns how many moved
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	// ListFailed returns Failed records with retry_count below maxRetries, oldest first
	ListFailed(ctx context.Context, maxRetries, limit int) ([]*Record, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

package event

import (
	"context"
	"time"
)

// Repository persists analyzed events
type Repository interface {
	// Upsert writes the composite keyed by trace id; (chain, tx, log index) is unique
	Upsert(ctx context.Context, stored *Stored) error
	FindByTxHash(ctx context.Context, chainID int64, txHash string) ([]*Stored, error)
	// RecentBySender returns the sender's events at or after since, newest first
	RecentBySender(ctx context.Context, chainID int64, from string, since time.Time, limit int) ([]*NormalizedEvent, error)
}

package profile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider supplies scoring context for an address.
// Unknown addresses yield errors.ErrNotFound.
type Provider interface {
	GetProfile(ctx context.Context, chainID int64, address string) (*AddressProfile, error)
}

// Repository is the read-write store behind the provider
type Repository interface {
	Provider
	Upsert(ctx context.Context, p *AddressProfile) error
	// RecordActivity bumps tx count and volume, creating the profile on first sight
	RecordActivity(ctx context.Context, chainID int64, address string, value decimal.Decimal, at time.Time) error
}

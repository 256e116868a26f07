package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"chainintel/internal/domain/profile"
	"chainintel/pkg/errors"
)

// Compile-time check
var _ profile.Repository = (*AddressProfileRepository)(nil)

// AddressProfileRepository implements profile.Repository using sqlx
type AddressProfileRepository struct {
	db DBTX
}

// NewAddressProfileRepository creates a new address profile repository
func NewAddressProfileRepository(db DBTX) *AddressProfileRepository {
	return &AddressProfileRepository{db: db}
}

type profileRow struct {
	ChainID    int64          `db:"chain_id"`
	Address    string         `db:"address"`
	FirstSeen  *time.Time     `db:"first_seen"`
	IsContract bool           `db:"is_contract"`
	Tags       pq.StringArray `db:"tags"`
	Risk       []byte         `db:"risk"`
	UpdatedAt  time.Time      `db:"updated_at"`
	profile.Stats
}

func (row profileRow) toProfile() (*profile.AddressProfile, error) {
	p := &profile.AddressProfile{
		ChainID:    row.ChainID,
		Address:    row.Address,
		Stats:      row.Stats,
		FirstSeen:  row.FirstSeen,
		IsContract: row.IsContract,
		Tags:       []string(row.Tags),
		UpdatedAt:  row.UpdatedAt,
	}
	if len(row.Risk) > 0 {
		if err := json.Unmarshal(row.Risk, &p.Risk); err != nil {
			return nil, errors.Wrapf(err, "decode risk features of %s", row.Address)
		}
	}
	return p, nil
}

// GetProfile returns errors.ErrNotFound for unknown addresses
func (r *AddressProfileRepository) GetProfile(ctx context.Context, chainID int64, address string) (*profile.AddressProfile, error) {
	var row profileRow

	query := `
		SELECT chain_id, address, first_seen, is_contract, tags, risk, updated_at,
			tx_count, unique_counterparties, total_volume, last_tx_time
		FROM address_profiles
		WHERE chain_id = $1 AND address = $2`

	err := r.db.GetContext(ctx, &row, query, chainID, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "profile chain_id=%d address=%s", chainID, address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get profile %s", address)
	}
	return row.toProfile()
}

// Upsert replaces the profile, as pushed by the profiling collaborator
func (r *AddressProfileRepository) Upsert(ctx context.Context, p *profile.AddressProfile) error {
	riskJSON, err := json.Marshal(p.Risk)
	if err != nil {
		return errors.Wrap(err, "encode risk features")
	}

	query := `
		INSERT INTO address_profiles (
			chain_id, address, tx_count, unique_counterparties, total_volume,
			last_tx_time, first_seen, is_contract, tags, risk
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			tx_count = $3,
			unique_counterparties = $4,
			total_volume = $5,
			last_tx_time = $6,
			first_seen = COALESCE(address_profiles.first_seen, $7),
			is_contract = $8,
			tags = $9,
			risk = $10,
			updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query,
		p.ChainID, strings.ToLower(p.Address),
		p.Stats.TxCount, p.Stats.UniqueCounterparties, p.Stats.TotalVolume,
		p.Stats.LastTxTime, p.FirstSeen, p.IsContract, pq.Array(p.Tags), riskJSON,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert profile %s", p.Address)
	}
	return nil
}

// RecordActivity bumps tx count and volume, creating the profile on first sight
func (r *AddressProfileRepository) RecordActivity(ctx context.Context, chainID int64, address string, value decimal.Decimal, at time.Time) error {
	query := `
		INSERT INTO address_profiles (
			chain_id, address, tx_count, total_volume, last_tx_time, first_seen
		) VALUES (
			$1, $2, 1, $3, $4, $4
		)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			tx_count = address_profiles.tx_count + 1,
			total_volume = address_profiles.total_volume + $3,
			last_tx_time = GREATEST(address_profiles.last_tx_time, $4),
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, chainID, strings.ToLower(address), value, at); err != nil {
		return errors.Wrapf(err, "record activity of %s", address)
	}
	return nil
}

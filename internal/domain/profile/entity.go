package profile

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the running activity aggregate of an address
type Stats struct {
	TxCount              int64           `json:"tx_count" db:"tx_count"`
	UniqueCounterparties int64           `json:"unique_counterparties" db:"unique_counterparties"`
	TotalVolume          decimal.Decimal `json:"total_volume" db:"total_volume"`
	LastTxTime           *time.Time      `json:"last_tx_time,omitempty" db:"last_tx_time"`
}

// BlacklistAssociation links an address to known bad actors
type BlacklistAssociation struct {
	Score            float64  `json:"score"`
	RelatedAddresses []string `json:"related_addresses,omitempty"`
}

// RiskFeatures are precomputed signals supplied by the profiling collaborator
type RiskFeatures struct {
	Blacklist           BlacklistAssociation `json:"blacklist"`
	MixerInteractions   int                  `json:"mixer_interactions"`
	RiskNeighborRatio   float64              `json:"risk_neighbor_ratio"`
	HoneypotInteraction bool                 `json:"honeypot_interaction"`
	SuspiciousContract  bool                 `json:"suspicious_contract"`
}

// AddressProfile is the behavioral context of one address on one chain
type AddressProfile struct {
	ChainID    int64        `json:"chain_id"`
	Address    string       `json:"address"`
	Stats      Stats        `json:"stats"`
	FirstSeen  *time.Time   `json:"first_seen,omitempty"`
	Risk       RiskFeatures `json:"risk"`
	IsContract bool         `json:"is_contract"`
	Tags       []string     `json:"tags,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Default is the neutral profile used when none is known or the lookup fails
func Default(chainID int64, address string) *AddressProfile {
	return &AddressProfile{
		ChainID: chainID,
		Address: strings.ToLower(address),
		Stats:   Stats{TotalVolume: decimal.Zero},
	}
}

package eventstatus

import (
	"encoding/json"
	"strings"
	"time"
)

// InvalidPrefix marks a last error produced by validation. Such records are never re-driven.
const InvalidPrefix = "invalid event: "

// StaleMessage is recorded on Processing records abandoned by a crashed handler
const StaleMessage = "processing abandoned"

// Status of an event in the idempotency ledger
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusAlerted    Status = "Alerted"
)

// Terminal reports whether the status is a sink that is never reprocessed
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusAlerted
}

// Claimable reports whether a handler may move the record to Processing
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFailed
}

// AllStatuses lists every status, for metrics
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusAlerted}
}

// Record is the ledger entry for one (chain id, tx hash)
type Record struct {
	ChainID    int64           `db:"chain_id"`
	TxHash     string          `db:"tx_hash"`
	Status     Status          `db:"status"`
	Source     string          `db:"source"`
	RetryCount int             `db:"retry_count"`
	LastError  *string         `db:"last_error"`
	Payload    json.RawMessage `db:"payload"` // raw event, used to re-drive failed records
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Invalid reports whether the record failed validation. Retrying it cannot succeed.
func (r *Record) Invalid() bool {
	return r.Status == StatusFailed && r.LastError != nil && strings.HasPrefix(*r.LastError, InvalidPrefix)
}

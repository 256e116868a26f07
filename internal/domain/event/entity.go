package event

import (
	"time"

	"github.com/shopspring/decimal"

	"chainintel/internal/domain/risk"
)

// Kind classifies a normalized event
type Kind string

const (
	KindTransfer       Kind = "transfer"
	KindContractCall   Kind = "contract_call"
	KindTokenTransfer  Kind = "token_transfer"
	KindBatchOperation Kind = "batch_operation"
	KindUnknown        Kind = "unknown"
)

// Source tells which ingest path produced the event
type Source string

const (
	SourceLive   Source = "live"
	SourceReplay Source = "replay"
)

// RawEvent is the provider-agnostic shape handed to the pipeline by the
// chain adapter, the Kafka ingest topic and the replay orchestrator.
type RawEvent struct {
	ChainID        int64          `json:"chainId,omitempty"`
	BlockNumber    uint64         `json:"blockNumber"`
	TxHash         string         `json:"transactionHash"`
	LogIndex       uint           `json:"logIndex"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Value          string         `json:"value"`
	Input          string         `json:"input,omitempty"`
	MethodName     string         `json:"methodName,omitempty"`
	TokenContract  string         `json:"tokenContract,omitempty"`
	TokenAmount    string         `json:"tokenAmount,omitempty"`
	BatchOperation int            `json:"batchOperation,omitempty"`
	Timestamp      int64          `json:"timestamp"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// MethodCall describes the contract method an event invoked
type MethodCall struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Input     string `json:"input,omitempty"`
}

// TokenTransfer is the payload of KindTokenTransfer events
type TokenTransfer struct {
	Contract string          `json:"contract"`
	Amount   decimal.Decimal `json:"amount"`
}

// BatchOperation is the payload of KindBatchOperation events
type BatchOperation struct {
	Operations int `json:"operations"`
}

// NormalizedEvent is the canonical form of one on-chain occurrence.
// It is not mutated after the normalizer returns it.
type NormalizedEvent struct {
	TraceID     string            `json:"trace_id"`
	ChainID     int64             `json:"chain_id"`
	BlockNumber uint64            `json:"block_number"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint              `json:"log_index"`
	Kind        Kind              `json:"kind"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Value       decimal.Decimal   `json:"value"`
	Method      *MethodCall       `json:"method,omitempty"`
	Token       *TokenTransfer    `json:"token,omitempty"`
	Batch       *BatchOperation   `json:"batch,omitempty"`
	Raw         map[string]any    `json:"raw,omitempty"`
	EventTime   time.Time         `json:"event_time"`
	IngestedAt  time.Time         `json:"ingested_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsBatch reports whether the event carries a batch payload
func (e *NormalizedEvent) IsBatch() bool {
	return e.Batch != nil && e.Batch.Operations > 0
}

// Stored is the persisted composite of an event and its analysis
type Stored struct {
	Event    *NormalizedEvent `json:"event"`
	Report   *risk.Report     `json:"report"`
	Source   Source           `json:"source"`
	Notified bool             `json:"notified"`
}

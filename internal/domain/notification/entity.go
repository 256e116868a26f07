package notification

import (
	"slices"
	"strconv"
)

// Channel is a delivery medium
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelEmail    Channel = "email"
)

// EventType is the routing classification of an event
type EventType string

const (
	EventTransfer            EventType = "TRANSFER"
	EventContractInteraction EventType = "CONTRACT_INTERACTION"
	EventBatchOperation      EventType = "BATCH_OPERATION"
)

// TemplateID returns the template registry id for the event type
func (t EventType) TemplateID() string {
	switch t {
	case EventContractInteraction:
		return "notify/contract_interaction"
	case EventBatchOperation:
		return "notify/batch_operation"
	default:
		return "notify/transfer"
	}
}

// Bucket is the routing severity derived from the score
type Bucket string

const (
	BucketHigh   Bucket = "HIGH"
	BucketMedium Bucket = "MEDIUM"
	BucketLow    Bucket = "LOW"
)

// BucketFor maps a score to its routing bucket
func BucketFor(score float64) Bucket {
	switch {
	case score >= 80:
		return BucketHigh
	case score >= 50:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Wildcard matches any value in a receiver filter
const Wildcard = "*"

// Receiver is a subscriber with a filter and per-channel targets
type Receiver struct {
	ID         string
	Name       string
	Chains     []string
	RiskLevels []string
	EventTypes []string
	Targets    map[Channel]string
}

// Matches applies the subscription filter
func (r Receiver) Matches(chainID int64, bucket Bucket, eventType EventType) bool {
	return matchAny(r.Chains, strconv.FormatInt(chainID, 10)) &&
		matchAny(r.RiskLevels, string(bucket)) &&
		matchAny(r.EventTypes, string(eventType))
}

func matchAny(filter []string, value string) bool {
	return slices.Contains(filter, Wildcard) || slices.Contains(filter, value)
}

// Message is a rendered notification
type Message struct {
	Subject   string
	Body      string
	Bucket    Bucket
	Emergency bool
	TraceID   string
}

package kafka

// Topic definitions for Kafka event streaming
const (
	// Raw chain events produced by external indexers, consumed by the live pipeline
	TopicChainEvents = "chain.events"

	// Risk reports that triggered a notification
	TopicRiskAlert = "risk.alerts"
)

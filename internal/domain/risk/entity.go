package risk

import (
	"strings"
	"time"
)

// Dimension groups related risk points and carries its own weight in the total
type Dimension string

const (
	DimensionFlow        Dimension = "FLOW"
	DimensionBehavior    Dimension = "BEHAVIOR"
	DimensionAssociation Dimension = "ASSOCIATION"
	DimensionHistorical  Dimension = "HISTORICAL"
)

// PointType identifies a single triggered risk signal
type PointType string

const (
	PointLargeTransfer       PointType = "LARGE_TRANSFER"
	PointFrequentTransfer    PointType = "FREQUENT_TRANSFER"
	PointIrregularPattern    PointType = "IRREGULAR_PATTERN"
	PointContractInteraction PointType = "CONTRACT_INTERACTION"
	PointBatchOperation      PointType = "BATCH_OPERATION"
	PointHoneypotInteraction PointType = "HONEYPOT_INTERACTION"
	PointSuspiciousContract  PointType = "SUSPICIOUS_CONTRACT"
	PointBlacklist           PointType = "BLACKLIST"
	PointRiskNeighbor        PointType = "RISK_NEIGHBOR"
	PointMixer               PointType = "MIXER"
	PointNewAccount          PointType = "NEW_ACCOUNT"
	PointDormantActivated    PointType = "DORMANT_ACTIVATED"
)

// Level is the discrete risk classification derived from the score
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels; unknown levels rank below LOW
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// ParseLevel accepts level names case-insensitively
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l.Rank() == 0 {
		return "", false
	}
	return l, true
}

// Action is the recommended response for a level
type Action string

const (
	ActionNone    Action = "none"
	ActionMonitor Action = "monitor"
	ActionAlert   Action = "alert"
	ActionBlock   Action = "block"
)

// Point is one triggered risk signal
type Point struct {
	Type        PointType      `json:"type"`
	Dimension   Dimension      `json:"dimension"`
	Weight      float64        `json:"weight"`
	Description string         `json:"description"`
	// Count is the magnitude behind the signal (tx count, mixer hits, batch size)
	Count   int            `json:"count,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// DimensionScore is the per-dimension breakdown kept for analytics
type DimensionScore struct {
	Dimension Dimension `json:"dimension"`
	Score     float64   `json:"score"`
	Weight    float64   `json:"weight"`
}

// Combination is a fired combination rule
type Combination struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// GraphMetrics summarizes the counterparty graph around the sender
type GraphMetrics struct {
	Counterparties int     `json:"counterparties"`
	OutDegree      int     `json:"out_degree"`
	InDegree       int     `json:"in_degree"`
	Concentration  float64 `json:"concentration"`
}

// AIAnalysis is the output of the analyzer step.
// Degraded analyses carry neutral values and the failure reason.
type AIAnalysis struct {
	BehaviorPattern string       `json:"behavior_pattern"`
	GraphMetrics    GraphMetrics `json:"graph_metrics"`
	Summary         string       `json:"summary"`
	Factors         []string     `json:"factors,omitempty"`
	Score           *float64     `json:"score,omitempty"`
	Degraded        bool         `json:"degraded"`
	Reason          string       `json:"reason,omitempty"`
}

// NeutralAIAnalysis is used when the analyzer fails or times out
func NeutralAIAnalysis(reason string) AIAnalysis {
	return AIAnalysis{
		BehaviorPattern: "unknown",
		Summary:         "analysis unavailable",
		Degraded:        true,
		Reason:          reason,
	}
}

// Report is the immutable output of one analysis
type Report struct {
	Score        float64          `json:"score"`
	Level        Level            `json:"level"`
	Points       []Point          `json:"points"`
	Dimensions   []DimensionScore `json:"dimensions"`
	Combinations []Combination    `json:"combinations,omitempty"`
	AI           AIAnalysis       `json:"ai"`
	Action       Action           `json:"action"`
	Timestamp    time.Time        `json:"timestamp"`
}

// PointTypes lists triggered point types in report order
func (r *Report) PointTypes() []string {
	out := make([]string, 0, len(r.Points))
	for _, p := range r.Points {
		out = append(out, string(p.Type))
	}
	return out
}

// HasPoint reports whether a point of type t was triggered
func (r *Report) HasPoint(t PointType) bool {
	for _, p := range r.Points {
		if p.Type == t {
			return true
		}
	}
	return false
}

// AnalyticsRecord is the flattened row appended to the analytics store
type AnalyticsRecord struct {
	TraceID      string    `ch:"trace_id"`
	ChainID      int64     `ch:"chain_id"`
	BlockNumber  uint64    `ch:"block_number"`
	TxHash       string    `ch:"tx_hash"`
	FromAddress  string    `ch:"from_address"`
	ToAddress    string    `ch:"to_address"`
	Kind         string    `ch:"kind"`
	ValueWei     string    `ch:"value_wei"`
	Score        float64   `ch:"score"`
	Level        string    `ch:"level"`
	Action       string    `ch:"action"`
	Points       []string  `ch:"points"`
	Combinations []string  `ch:"combinations"`
	AIDegraded   bool      `ch:"ai_degraded"`
	Source       string    `ch:"source"`
	EventTime    time.Time `ch:"event_time"`
	AnalyzedAt   time.Time `ch:"analyzed_at"`
}

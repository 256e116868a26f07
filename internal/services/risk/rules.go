package riskservice

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"chainintel/internal/domain/risk"
)

// WeiPerNative is 10^18, the scale of native amounts on EVM chains
var WeiPerNative = decimal.New(1, 18)

// Condition requires at least MinCount occurrences of a point type
type Condition struct {
	Point    risk.PointType
	MinCount int
}

// CombinationRule amplifies the score when all its conditions hold
type CombinationRule struct {
	Name       string
	Weight     float64
	Conditions []Condition
}

// LevelThreshold maps a minimum score to a level and action
type LevelThreshold struct {
	Level    risk.Level
	MinScore float64
	Action   risk.Action
}

// RuleSet holds every tunable of the engine
type RuleSet struct {
	DimensionWeights map[risk.Dimension]float64
	PointWeights     map[risk.PointType]float64

	// Per chain, in wei. Chains without an entry never trigger LARGE_TRANSFER.
	LargeTransferThresholds map[int64]decimal.Decimal

	FrequentTxCount   int64
	IrregularCount    int
	IrregularWindow   time.Duration
	NewAccountAge     time.Duration
	DormantAge        time.Duration
	RiskNeighborRatio float64

	Combinations []CombinationRule
	Levels       []LevelThreshold

	// Share of the AI score blended into the final score. Zero keeps the rule score.
	AIScoreWeight float64
}

// DefaultRuleSet returns the production rule set
func DefaultRuleSet() RuleSet {
	return RuleSet{
		DimensionWeights: map[risk.Dimension]float64{
			risk.DimensionFlow:        0.30,
			risk.DimensionBehavior:    0.30,
			risk.DimensionAssociation: 0.25,
			risk.DimensionHistorical:  0.15,
		},
		PointWeights: map[risk.PointType]float64{
			risk.PointLargeTransfer:       0.4,
			risk.PointFrequentTransfer:    0.3,
			risk.PointIrregularPattern:    0.3,
			risk.PointContractInteraction: 0.35,
			risk.PointBatchOperation:      0.35,
			risk.PointHoneypotInteraction: 0.3,
			risk.PointSuspiciousContract:  0.3,
			risk.PointBlacklist:           0.4,
			risk.PointRiskNeighbor:        0.3,
			risk.PointMixer:               0.3,
			risk.PointNewAccount:          0.3,
			risk.PointDormantActivated:    0.4,
		},
		LargeTransferThresholds: map[int64]decimal.Decimal{
			1:   decimal.NewFromInt(100).Mul(WeiPerNative),
			56:  decimal.NewFromInt(1000).Mul(WeiPerNative),
			137: decimal.NewFromInt(10000).Mul(WeiPerNative),
		},
		FrequentTxCount:   10,
		IrregularCount:    5,
		IrregularWindow:   10 * time.Minute,
		NewAccountAge:     24 * time.Hour,
		DormantAge:        180 * 24 * time.Hour,
		RiskNeighborRatio: 0.3,
		Combinations: []CombinationRule{
			{
				Name:   "MONEY_LAUNDERING",
				Weight: 1.5,
				Conditions: []Condition{
					{Point: risk.PointLargeTransfer, MinCount: 1},
					{Point: risk.PointFrequentTransfer, MinCount: 5},
					{Point: risk.PointMixer, MinCount: 1},
				},
			},
			{
				Name:   "HONEYPOT_SCAM",
				Weight: 2.0,
				Conditions: []Condition{
					{Point: risk.PointHoneypotInteraction, MinCount: 1},
					{Point: risk.PointSuspiciousContract, MinCount: 1},
					{Point: risk.PointBatchOperation, MinCount: 3},
				},
			},
		},
		Levels: []LevelThreshold{
			{Level: risk.LevelLow, MinScore: 0, Action: risk.ActionNone},
			{Level: risk.LevelMedium, MinScore: 50, Action: risk.ActionMonitor},
			{Level: risk.LevelHigh, MinScore: 80, Action: risk.ActionAlert},
			{Level: risk.LevelCritical, MinScore: 95, Action: risk.ActionBlock},
		},
	}
}

// LevelFor scans thresholds from lowest to highest and keeps the last one satisfied
func (r RuleSet) LevelFor(score float64) (risk.Level, risk.Action) {
	levels := append([]LevelThreshold(nil), r.Levels...)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].MinScore < levels[j].MinScore })

	level, action := risk.LevelLow, risk.ActionNone
	for _, t := range levels {
		if score >= t.MinScore {
			level, action = t.Level, t.Action
		}
	}
	return level, action
}

// matchCombinations returns the rules whose conditions all hold over points.
// A condition counts triggered points of its type; Point.Count is detail only.
func (r RuleSet) matchCombinations(points []risk.Point) []risk.Combination {
	counts := make(map[risk.PointType]int, len(points))
	for _, p := range points {
		counts[p.Type]++
	}

	var fired []risk.Combination
	for _, rule := range r.Combinations {
		matched := len(rule.Conditions) > 0
		for _, c := range rule.Conditions {
			if counts[c.Point] < c.MinCount {
				matched = false
				break
			}
		}
		if matched {
			fired = append(fired, risk.Combination{Name: rule.Name, Weight: rule.Weight})
		}
	}
	return fired
}

func (r RuleSet) point(t risk.PointType, dim risk.Dimension, description string, count int, details map[string]any) risk.Point {
	return risk.Point{
		Type:        t,
		Dimension:   dim,
		Weight:      r.PointWeights[t],
		Description: description,
		Count:       count,
		Details:     details,
	}
}

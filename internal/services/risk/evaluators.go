package riskservice

import (
	"context"
	"fmt"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/risk"
)

// Input is everything an evaluator may look at
type Input struct {
	Event *event.NormalizedEvent
	// Profile of the acting address (sender, or receiver when there is no sender)
	Profile *profile.AddressProfile
	// Counterparty profile, may be nil
	Counterparty *profile.AddressProfile
	// Recent events of the sender, newest first
	History []*event.NormalizedEvent
}

// DimensionEvaluator produces the triggered points of one dimension
type DimensionEvaluator interface {
	Dimension() risk.Dimension
	Evaluate(ctx context.Context, in Input) ([]risk.Point, error)
}

// DefaultEvaluators returns the four built-in dimensions
func DefaultEvaluators(rules RuleSet) []DimensionEvaluator {
	return []DimensionEvaluator{
		&FlowEvaluator{rules: rules},
		&BehaviorEvaluator{rules: rules},
		&AssociationEvaluator{rules: rules},
		&HistoricalEvaluator{rules: rules},
	}
}

// FlowEvaluator scores fund movement: size, frequency and bursts
type FlowEvaluator struct {
	rules RuleSet
}

func (e *FlowEvaluator) Dimension() risk.Dimension { return risk.DimensionFlow }

func (e *FlowEvaluator) Evaluate(ctx context.Context, in Input) ([]risk.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var points []risk.Point
	ev := in.Event

	if threshold, ok := e.rules.LargeTransferThresholds[ev.ChainID]; ok && ev.Value.GreaterThanOrEqual(threshold) {
		points = append(points, e.rules.point(risk.PointLargeTransfer, risk.DimensionFlow,
			"transfer value at or above chain threshold", 1,
			map[string]any{"value": ev.Value.String(), "threshold": threshold.String()}))
	}

	if in.Profile != nil && in.Profile.Stats.TxCount > e.rules.FrequentTxCount {
		points = append(points, e.rules.point(risk.PointFrequentTransfer, risk.DimensionFlow,
			fmt.Sprintf("address has %d transactions", in.Profile.Stats.TxCount),
			int(in.Profile.Stats.TxCount),
			map[string]any{"tx_count": in.Profile.Stats.TxCount}))
	}

	if burst := burstSize(ev, in.History, e.rules); burst >= e.rules.IrregularCount && e.rules.IrregularCount > 0 {
		points = append(points, e.rules.point(risk.PointIrregularPattern, risk.DimensionFlow,
			fmt.Sprintf("%d transactions from sender within %s", burst, e.rules.IrregularWindow),
			burst,
			map[string]any{"recent_count": burst, "window": e.rules.IrregularWindow.String()}))
	}

	return points, nil
}

// burstSize counts the sender's other events within the irregular window of ev
func burstSize(ev *event.NormalizedEvent, history []*event.NormalizedEvent, rules RuleSet) int {
	if ev.From == "" {
		return 0
	}
	n := 0
	for _, h := range history {
		if h.From != ev.From || (h.TxHash == ev.TxHash && h.LogIndex == ev.LogIndex) {
			continue
		}
		d := ev.EventTime.Sub(h.EventTime)
		if d < 0 {
			d = -d
		}
		if d <= rules.IrregularWindow {
			n++
		}
	}
	return n
}

// BehaviorEvaluator scores what the address does: contract calls, batches, scam contracts
type BehaviorEvaluator struct {
	rules RuleSet
}

func (e *BehaviorEvaluator) Dimension() risk.Dimension { return risk.DimensionBehavior }

func (e *BehaviorEvaluator) Evaluate(ctx context.Context, in Input) ([]risk.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var points []risk.Point
	ev := in.Event

	if ev.Method != nil {
		points = append(points, e.rules.point(risk.PointContractInteraction, risk.DimensionBehavior,
			"contract method "+ev.Method.Name, 1,
			map[string]any{"method": ev.Method.Name, "signature": ev.Method.Signature}))
	}

	if ev.IsBatch() {
		points = append(points, e.rules.point(risk.PointBatchOperation, risk.DimensionBehavior,
			fmt.Sprintf("batch of %d operations", ev.Batch.Operations), ev.Batch.Operations,
			map[string]any{"operations": ev.Batch.Operations}))
	}

	if in.Profile != nil && in.Profile.Risk.HoneypotInteraction {
		points = append(points, e.rules.point(risk.PointHoneypotInteraction, risk.DimensionBehavior,
			"address interacted with a honeypot", 1, nil))
	}

	if in.Profile != nil && in.Profile.Risk.SuspiciousContract {
		points = append(points, e.rules.point(risk.PointSuspiciousContract, risk.DimensionBehavior,
			"address linked to a suspicious contract", 1, nil))
	}

	return points, nil
}

// AssociationEvaluator scores links to known bad actors
type AssociationEvaluator struct {
	rules RuleSet
}

func (e *AssociationEvaluator) Dimension() risk.Dimension { return risk.DimensionAssociation }

func (e *AssociationEvaluator) Evaluate(ctx context.Context, in Input) ([]risk.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Profile == nil {
		return nil, nil
	}

	var points []risk.Point
	rf := in.Profile.Risk

	if rf.Blacklist.Score > 0 {
		points = append(points, e.rules.point(risk.PointBlacklist, risk.DimensionAssociation,
			"address associated with blacklisted addresses", 1,
			map[string]any{"score": rf.Blacklist.Score, "related": rf.Blacklist.RelatedAddresses}))
	} else if in.Counterparty != nil && in.Counterparty.Risk.Blacklist.Score > 0 {
		points = append(points, e.rules.point(risk.PointBlacklist, risk.DimensionAssociation,
			"counterparty associated with blacklisted addresses", 1,
			map[string]any{"score": in.Counterparty.Risk.Blacklist.Score, "counterparty": in.Counterparty.Address}))
	}

	if rf.RiskNeighborRatio >= e.rules.RiskNeighborRatio && e.rules.RiskNeighborRatio > 0 {
		points = append(points, e.rules.point(risk.PointRiskNeighbor, risk.DimensionAssociation,
			fmt.Sprintf("%.0f%% of neighbors are risky", rf.RiskNeighborRatio*100), 1,
			map[string]any{"ratio": rf.RiskNeighborRatio}))
	}

	if rf.MixerInteractions > 0 {
		points = append(points, e.rules.point(risk.PointMixer, risk.DimensionAssociation,
			fmt.Sprintf("%d mixer interactions", rf.MixerInteractions), rf.MixerInteractions,
			map[string]any{"interactions": rf.MixerInteractions}))
	}

	return points, nil
}

// HistoricalEvaluator scores account age and dormancy
type HistoricalEvaluator struct {
	rules RuleSet
}

func (e *HistoricalEvaluator) Dimension() risk.Dimension { return risk.DimensionHistorical }

func (e *HistoricalEvaluator) Evaluate(ctx context.Context, in Input) ([]risk.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Profile == nil {
		return nil, nil
	}

	var points []risk.Point
	at := in.Event.EventTime

	if fs := in.Profile.FirstSeen; fs != nil && at.Sub(*fs) < e.rules.NewAccountAge {
		points = append(points, e.rules.point(risk.PointNewAccount, risk.DimensionHistorical,
			"account first seen recently", 1,
			map[string]any{"first_seen": fs.UTC()}))
	}

	if last := in.Profile.Stats.LastTxTime; last != nil && at.Sub(*last) > e.rules.DormantAge {
		points = append(points, e.rules.point(risk.PointDormantActivated, risk.DimensionHistorical,
			"dormant account became active", 1,
			map[string]any{"last_tx_time": last.UTC()}))
	}

	return points, nil
}

package riskservice

import (
	"context"
	"math"
	"time"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/profile"
	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Engine scores events across independent dimensions
type Engine struct {
	rules      RuleSet
	evaluators []DimensionEvaluator
	ai         AIAnalyzer
	log        *logger.Logger
	now        func() time.Time
}

// NewEngine creates an engine. Without evaluators the four built-in dimensions are used,
// and a nil analyzer means the heuristic one.
func NewEngine(rules RuleSet, ai AIAnalyzer, log *logger.Logger, evaluators ...DimensionEvaluator) *Engine {
	if len(evaluators) == 0 {
		evaluators = DefaultEvaluators(rules)
	}
	if ai == nil {
		ai = NewHeuristicAnalyzer(rules, nil)
	}
	return &Engine{
		rules:      rules,
		evaluators: evaluators,
		ai:         ai,
		log:        log.With("component", "risk_engine"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// AnalyzeOption adds optional context to an analysis
type AnalyzeOption func(*Input)

// WithCounterparty supplies the other side's profile
func WithCounterparty(p *profile.AddressProfile) AnalyzeOption {
	return func(in *Input) { in.Counterparty = p }
}

// Analyze produces a report for ev. Evaluator failures abort the analysis;
// AI failures only degrade the AI section.
func (e *Engine) Analyze(
	ctx context.Context,
	ev *event.NormalizedEvent,
	prof *profile.AddressProfile,
	historical []*event.NormalizedEvent,
	opts ...AnalyzeOption,
) (*risk.Report, error) {
	start := time.Now()

	if ev == nil {
		return nil, errors.NewValidationError("event", "event is required", nil)
	}

	in := Input{Event: ev, Profile: prof, History: historical}
	for _, opt := range opts {
		opt(&in)
	}

	report, err := e.analyze(ctx, in)
	if err != nil {
		metrics.RecordRiskAnalysis("", 0, nil, time.Since(start), err)
		return nil, err
	}

	metrics.RecordRiskAnalysis(string(report.Level), report.Score, report.PointTypes(), time.Since(start), nil)
	metrics.RecordAIAnalysis(report.AI.Degraded)
	return report, nil
}

func (e *Engine) analyze(ctx context.Context, in Input) (*risk.Report, error) {
	log := e.log.WithEvent(in.Event.TraceID, in.Event.ChainID, in.Event.TxHash)

	var (
		points     []risk.Point
		dimensions []risk.DimensionScore
		base       float64
	)

	for _, ev := range e.evaluators {
		dimPoints, err := ev.Evaluate(ctx, in)
		if err != nil {
			log.Errorw("Dimension evaluation failed", "dimension", ev.Dimension(), "error", err)
			return nil, errors.Mark(errors.Wrapf(err, "evaluate %s", ev.Dimension()), errors.ErrRiskAnalysis)
		}

		weight := e.rules.DimensionWeights[ev.Dimension()]
		score := DimensionScore(dimPoints)
		base += score * weight

		dimensions = append(dimensions, risk.DimensionScore{Dimension: ev.Dimension(), Score: score, Weight: weight})
		points = append(points, dimPoints...)
	}

	combos := e.rules.matchCombinations(points)
	score := base
	if len(combos) > 0 {
		score *= maxWeight(combos)
	}
	score = clamp(score)

	ai := e.ai.Analyze(ctx, in)
	if ai.Degraded {
		log.Warnw("AI analysis degraded", "reason", ai.Reason)
	}
	if e.rules.AIScoreWeight > 0 && ai.Score != nil && !ai.Degraded {
		w := math.Min(1, e.rules.AIScoreWeight)
		score = clamp((1-w)*score + w*(*ai.Score))
	}

	level, action := e.rules.LevelFor(score)

	log.Debugw("Risk analyzed",
		"score", score,
		"level", level,
		"points", len(points),
		"combinations", len(combos),
	)

	return &risk.Report{
		Score:        score,
		Level:        level,
		Points:       points,
		Dimensions:   dimensions,
		Combinations: combos,
		AI:           ai,
		Action:       action,
		Timestamp:    e.now(),
	}, nil
}

// DimensionScore is min(100, 100 × Σ point weights)
func DimensionScore(points []risk.Point) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Weight
	}
	return math.Min(100, 100*sum)
}

func maxWeight(combos []risk.Combination) float64 {
	w := combos[0].Weight
	for _, c := range combos[1:] {
		w = math.Max(w, c.Weight)
	}
	return w
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}

package riskservice

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"chainintel/internal/domain/risk"
)

// AIAnalyzer is the black-box analysis step. It never fails: problems are
// reported through AIAnalysis.Degraded.
type AIAnalyzer interface {
	Analyze(ctx context.Context, in Input) risk.AIAnalysis
}

// Summarizer turns findings into prose, e.g. an LLM
type Summarizer interface {
	Summarize(ctx context.Context, findings string) (string, error)
}

// Behavior patterns reported by the heuristic analyzer
const (
	PatternFirstActivity = "first_activity"
	PatternBurst         = "burst"
	PatternRepetitive    = "repetitive"
	PatternFanOut        = "fan_out"
	PatternNormal        = "normal"
)

// HeuristicAnalyzer derives behavior and graph features from recent history.
// When a summarizer is set it writes the summary; a summarizer failure degrades the result.
type HeuristicAnalyzer struct {
	rules      RuleSet
	summarizer Summarizer
}

// NewHeuristicAnalyzer creates the default analyzer. summarizer may be nil.
func NewHeuristicAnalyzer(rules RuleSet, summarizer Summarizer) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{rules: rules, summarizer: summarizer}
}

func (a *HeuristicAnalyzer) Analyze(ctx context.Context, in Input) risk.AIAnalysis {
	if err := ctx.Err(); err != nil {
		return risk.NeutralAIAnalysis(err.Error())
	}

	subject := in.Event.From
	if subject == "" {
		subject = in.Event.To
	}

	graph := graphMetrics(subject, in)
	pattern := behaviorPattern(in, graph, a.rules)
	factors := factorsFor(pattern, graph)
	score := patternScore(pattern, graph)

	out := risk.AIAnalysis{
		BehaviorPattern: pattern,
		GraphMetrics:    graph,
		Factors:         factors,
		Score:           &score,
		Summary:         summarize(pattern, graph, len(in.History)),
	}

	if a.summarizer != nil {
		text, err := a.summarizer.Summarize(ctx, findings(in, out))
		if err != nil {
			return risk.NeutralAIAnalysis(err.Error())
		}
		if text != "" {
			out.Summary = text
		}
	}

	return out
}

func graphMetrics(subject string, in Input) risk.GraphMetrics {
	peers := make(map[string]int)
	var g risk.GraphMetrics

	add := func(from, to string) {
		switch subject {
		case from:
			g.OutDegree++
			if to != "" {
				peers[to]++
			}
		case to:
			g.InDegree++
			if from != "" {
				peers[from]++
			}
		}
	}

	add(in.Event.From, in.Event.To)
	for _, h := range in.History {
		add(h.From, h.To)
	}

	g.Counterparties = len(peers)
	total, top := 0, 0
	for _, n := range peers {
		total += n
		if n > top {
			top = n
		}
	}
	if total > 0 {
		g.Concentration = float64(top) / float64(total)
	}
	return g
}

func behaviorPattern(in Input, g risk.GraphMetrics, rules RuleSet) string {
	switch {
	case len(in.History) == 0:
		return PatternFirstActivity
	case rules.IrregularCount > 0 && burstSize(in.Event, in.History, rules) >= rules.IrregularCount:
		return PatternBurst
	case g.Counterparties >= 10 && g.OutDegree > 2*g.InDegree:
		return PatternFanOut
	case len(in.History) >= 3 && g.Concentration >= 0.8:
		return PatternRepetitive
	default:
		return PatternNormal
	}
}

func patternScore(pattern string, g risk.GraphMetrics) float64 {
	switch pattern {
	case PatternBurst:
		return 70
	case PatternFanOut:
		return 60
	case PatternRepetitive:
		return 40
	case PatternFirstActivity:
		return 30
	default:
		return 10 + 20*g.Concentration
	}
}

func factorsFor(pattern string, g risk.GraphMetrics) []string {
	var f []string
	if pattern != PatternNormal {
		f = append(f, "pattern:"+pattern)
	}
	if g.Counterparties > 0 {
		f = append(f, fmt.Sprintf("counterparties:%d", g.Counterparties))
	}
	if g.Concentration >= 0.8 && g.Counterparties > 0 {
		f = append(f, "concentrated_flow")
	}
	return f
}

func summarize(pattern string, g risk.GraphMetrics, history int) string {
	return fmt.Sprintf("%s activity over %d recent transactions with %d counterparties (out %d, in %d)",
		strings.ReplaceAll(pattern, "_", " "), history, g.Counterparties, g.OutDegree, g.InDegree)
}

// findings renders the prompt handed to the summarizer
func findings(in Input, a risk.AIAnalysis) string {
	var b strings.Builder
	ev := in.Event
	fmt.Fprintf(&b, "chain %d tx %s kind %s value_wei %s\n", ev.ChainID, ev.TxHash, ev.Kind, ev.Value.String())
	fmt.Fprintf(&b, "behavior pattern: %s\n", a.BehaviorPattern)
	fmt.Fprintf(&b, "counterparties: %d, concentration %.2f\n", a.GraphMetrics.Counterparties, a.GraphMetrics.Concentration)
	if in.Profile != nil {
		fmt.Fprintf(&b, "sender tx count %d, mixer interactions %d, blacklist score %.2f\n",
			in.Profile.Stats.TxCount, in.Profile.Risk.MixerInteractions, in.Profile.Risk.Blacklist.Score)
	}
	if len(a.Factors) > 0 {
		sorted := append([]string(nil), a.Factors...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, "factors: %s\n", strings.Join(sorted, ", "))
	}
	return b.String()
}

package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	"chainintel/internal/workers"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

var digestLevels = []risk.Level{risk.LevelLow, risk.LevelMedium, risk.LevelHigh, risk.LevelCritical}

// RiskDigest publishes per-level report counts over a trailing window
// from the analytics store, one gauge series per chain and level
type RiskDigest struct {
	*workers.BaseWorker
	store  risk.AnalyticsRepository
	chains []int64
	window time.Duration
	now    func() time.Time
}

// NewRiskDigest creates the digest worker
func NewRiskDigest(store risk.AnalyticsRepository, chains []int64, window, interval time.Duration, enabled bool, log *logger.Logger) *RiskDigest {
	if window <= 0 {
		window = time.Hour
	}
	return &RiskDigest{
		BaseWorker: workers.NewBaseWorker("risk_digest", interval, enabled, log),
		store:      store,
		chains:     chains,
		window:     window,
		now:        time.Now,
	}
}

// Run refreshes the gauges for every chain; one failing chain does not stop the others
func (w *RiskDigest) Run(ctx context.Context) error {
	since := w.now().Add(-w.window)
	var failed int

	for _, chainID := range w.chains {
		counts, err := w.store.LevelCounts(ctx, chainID, since)
		if err != nil {
			failed++
			w.Log().Warnw("Level counts unavailable", "chain_id", chainID, "error", err)
			continue
		}

		label := strconv.FormatInt(chainID, 10)
		var total uint64
		for _, level := range digestLevels {
			metrics.RecentRiskLevels.WithLabelValues(label, string(level)).Set(float64(counts[level]))
			total += counts[level]
		}

		w.Log().Infow("Risk digest",
			"chain_id", chainID,
			"window", w.window,
			"reports", humanize.Comma(int64(total)),
			"high", counts[risk.LevelHigh],
			"critical", counts[risk.LevelCritical],
		)
	}

	if failed > 0 && failed == len(w.chains) {
		return errors.Wrapf(errors.ErrUnavailable, "level counts failed for all %d chains", failed)
	}
	return nil
}

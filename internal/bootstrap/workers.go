package bootstrap

import (
	"chainintel/internal/workers"
	"chainintel/internal/workers/analytics"
	"chainintel/internal/workers/notify"
	"chainintel/internal/workers/reconcile"
)

// provideWorkers registers every periodic worker with both the scheduler and the
// health registry. The risk digest needs ClickHouse and is skipped without it.
func provideWorkers(c *Container) (*workers.Scheduler, *workers.Registry, error) {
	cfg := c.Config.Workers
	log := c.Log

	list := []workers.WorkerWithHealth{
		notify.NewBatchSweeper(c.Services.Router, cfg.BatchSweepInterval, true, log),
		reconcile.NewFailedEventReconciler(
			c.Repos.Status,
			c.Services.Processor,
			cfg.ReconcileMaxRetries,
			cfg.ReconcileBatchSize,
			cfg.ReconcileStaleAfter,
			cfg.ReconcileInterval,
			true,
			log,
		),
	}

	if c.Repos.RiskReports != nil {
		list = append(list, analytics.NewRiskDigest(
			c.Repos.RiskReports,
			[]int64{c.Config.Chain.ID},
			cfg.RiskDigestWindow,
			cfg.RiskDigestInterval,
			true,
			log,
		))
	} else {
		log.Info("Risk digest worker disabled (ClickHouse disabled)")
	}

	scheduler := workers.NewScheduler(log)
	registry := workers.NewRegistry()
	for _, w := range list {
		if err := registry.Register(w); err != nil {
			return nil, nil, err
		}
		scheduler.RegisterWorker(w)
	}

	return scheduler, registry, nil
}

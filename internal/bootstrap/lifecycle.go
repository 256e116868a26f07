package bootstrap

import (
	"context"
	"sync"
	"time"

	"chainintel/internal/adapters/chain"
	chclient "chainintel/internal/adapters/clickhouse"
	"chainintel/internal/adapters/kafka"
	pgclient "chainintel/internal/adapters/postgres"
	redisclient "chainintel/internal/adapters/redis"
	"chainintel/internal/api"
	chrepo "chainintel/internal/repository/clickhouse"
	notificationservice "chainintel/internal/services/notification"
	pipelineservice "chainintel/internal/services/pipeline"
	replayservice "chainintel/internal/services/replay"
	"chainintel/internal/workers"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 90 * time.Second,
	}
}

// ShutdownDeps lists what Shutdown closes. Nil members are skipped.
type ShutdownDeps struct {
	WG            *sync.WaitGroup
	HTTPServer    *api.Server
	Workers       *workers.Scheduler
	ReplayCron    *replayservice.CronScheduler
	Ingestor      *pipelineservice.Ingestor
	Router        *notificationservice.Router
	EventConsumer *kafka.Consumer
	Producer      *kafka.Producer
	RiskReports   *chrepo.RiskReportRepository
	Chain         *chain.Client
	PG            *pgclient.Client
	CH            *chclient.Client
	Redis         *redisclient.Client
	ErrorTracker  errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in the correct order:
// 1. No new requests accepted
// 2. Producers of work stop (workers, cron, Kafka consumer)
// 3. In-flight events drain and open batch windows flush before their sinks close
// 4. Logs and errors flushed
// 5. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(d ShutdownDeps, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/9] Stopping HTTP server...")
	if d.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := d.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	log.Info("[2/9] Stopping background workers and replay cron...")
	if d.ReplayCron != nil {
		d.ReplayCron.Stop()
	}
	if d.Workers != nil {
		if err := d.Workers.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// Closing the consumer unblocks FetchMessage before we wait on goroutines
	log.Info("[3/9] Closing Kafka consumer...")
	l.closeKafkaConsumers(log, d.EventConsumer)

	log.Info("[4/9] Waiting for ingest goroutines and flushing batch windows...")
	if d.WG != nil {
		l.waitForGoroutines(d.WG, 5*time.Second, log)
	}
	if d.Ingestor != nil {
		d.Ingestor.Stop()
		log.Info("✓ In-flight events drained")
	}
	if d.Router != nil {
		flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 15*time.Second)
		log.Infow("✓ Batch windows flushed", "count", d.Router.FlushAll(flushCtx))
		flushCancel()
	}

	log.Info("[5/9] Flushing analytics...")
	if d.RiskReports != nil {
		flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := d.RiskReports.Stop(flushCtx); err != nil {
			log.Errorw("Risk report flush failed", "error", err)
		} else {
			log.Info("✓ Risk reports flushed")
		}
		flushCancel()
	}

	log.Info("[6/9] Closing Kafka producer and chain client...")
	if d.Producer != nil {
		if err := d.Producer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}
	if d.Chain != nil {
		d.Chain.Close()
	}

	log.Info("[7/9] Flushing error tracker...")
	l.flushErrorTracker(d.ErrorTracker, shutdownCtx, log)

	log.Info("[8/9] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	// LAST - other components may need them during shutdown
	log.Info("[9/9] Closing database connections...")
	l.closeDatabases(d.PG, d.CH, d.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

// closeKafkaConsumers closes all Kafka consumers
func (l *Lifecycle) closeKafkaConsumers(log *logger.Logger, consumers ...*kafka.Consumer) {
	for _, consumer := range consumers {
		if consumer == nil {
			continue
		}
		if err := consumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "topic", consumer.Topic(), "error", err)
		}
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(tracker errors.Tracker, ctx context.Context, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var dbErrors []error

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			dbErrors = append(dbErrors, errors.Wrap(err, "redis"))
		}
	}

	if len(dbErrors) > 0 {
		log.Errorw("Database close errors", "errors", dbErrors)
	} else {
		log.Info("✓ Database connections closed")
	}
}

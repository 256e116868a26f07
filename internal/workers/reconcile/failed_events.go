package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/eventstatus"
	pipelineservice "chainintel/internal/services/pipeline"
	"chainintel/internal/workers"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// EventProcessor re-drives one raw event
type EventProcessor interface {
	ProcessEvent(ctx context.Context, source event.Source, raw event.RawEvent) (*pipelineservice.Outcome, error)
}

// Result summarizes one reconciliation pass
type Result struct {
	Requeued  int64
	Listed    int
	Retried   int
	Recovered int
	Failed    int
	Skipped   int
}

// FailedEventReconciler retries events left in Failed by transient errors.
// Records that failed validation are never retried, nor are records without a stored payload.
// Processing records older than staleAfter belong to a crashed handler and are failed first.
type FailedEventReconciler struct {
	*workers.BaseWorker
	status     eventstatus.Repository
	processor  EventProcessor
	maxRetries int
	batchSize  int
	staleAfter time.Duration
}

// NewFailedEventReconciler creates the reconciler worker
func NewFailedEventReconciler(
	status eventstatus.Repository,
	processor EventProcessor,
	maxRetries, batchSize int,
	staleAfter time.Duration,
	interval time.Duration,
	enabled bool,
	log *logger.Logger,
) *FailedEventReconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &FailedEventReconciler{
		BaseWorker: workers.NewBaseWorker("failed_event_reconciler", interval, enabled, log),
		status:     status,
		processor:  processor,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		staleAfter: staleAfter,
	}
}

// Run performs one pass
func (w *FailedEventReconciler) Run(ctx context.Context) error {
	res, err := w.Reconcile(ctx)
	if err != nil {
		return err
	}
	if res.Listed > 0 || res.Requeued > 0 {
		w.Log().Infow("Failed events reconciled",
			"requeued", res.Requeued,
			"listed", res.Listed,
			"retried", res.Retried,
			"recovered", res.Recovered,
			"failed", res.Failed,
			"skipped", res.Skipped,
		)
	}
	return nil
}

// Reconcile retries every eligible Failed record once
func (w *FailedEventReconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	requeued, err := w.status.RequeueStale(ctx, w.staleAfter)
	if err != nil {
		return res, errors.Mark(errors.Wrap(err, "requeue stale events"), errors.ErrPersistence)
	}
	res.Requeued = requeued

	records, err := w.status.ListFailed(ctx, w.maxRetries, w.batchSize)
	if err != nil {
		return res, errors.Mark(errors.Wrap(err, "list failed events"), errors.ErrPersistence)
	}
	res.Listed = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if !retryable(rec) {
			res.Skipped++
			continue
		}

		var raw event.RawEvent
		if err := json.Unmarshal(rec.Payload, &raw); err != nil {
			w.Log().Warnw("Stored payload unreadable", "tx_hash", rec.TxHash, "error", err)
			res.Skipped++
			continue
		}
		if raw.ChainID == 0 {
			raw.ChainID = rec.ChainID
		}

		res.Retried++
		// replay source bypasses the live seen cache, which still holds the failed hash
		out, err := w.processor.ProcessEvent(ctx, event.SourceReplay, raw)
		switch {
		case err != nil:
			res.Failed++
			w.Log().Debugw("Retry failed", "tx_hash", rec.TxHash, "retry_count", rec.RetryCount+1, "error", err)
		case out != nil && out.Skipped:
			res.Skipped++
		default:
			res.Recovered++
		}
	}

	return res, nil
}

func retryable(rec *eventstatus.Record) bool {
	if len(rec.Payload) == 0 {
		return false
	}
	return !rec.Invalid()
}

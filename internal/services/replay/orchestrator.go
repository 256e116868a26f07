package replayservice

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/dustin/go-humanize"

	"chainintel/internal/domain/event"
	"chainintel/internal/domain/replay"
	"chainintel/internal/domain/risk"
	"chainintel/internal/metrics"
	pipelineservice "chainintel/internal/services/pipeline"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// EventSource is the subset of the chain provider replay needs
type EventSource interface {
	ChainID() int64
	BlockNumber(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]event.RawEvent, error)
}

// EventProcessor runs the per-event pipeline
type EventProcessor interface {
	ProcessEvent(ctx context.Context, source event.Source, raw event.RawEvent) (*pipelineservice.Outcome, error)
}

// Config holds replay tunables
type Config struct {
	BatchSize        int
	QueryChunkBlocks uint64
	MaxRetries       int
	RetryDelay       time.Duration
}

// Stats summarizes one pass over a block range
type Stats struct {
	ChainID     int64
	StartBlock  uint64
	EndBlock    uint64
	TotalEvents int
	Processed   int
	Skipped     int
	HighRisk    int
	Failed      int
	Duration    time.Duration
}

// Orchestrator replays historical block ranges through the pipeline
type Orchestrator struct {
	cfg       Config
	source    EventSource
	processor EventProcessor
	jobs      replay.Repository
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. jobs may be nil.
func NewOrchestrator(cfg Config, source EventSource, processor EventProcessor, jobs replay.Repository, log *logger.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.QueryChunkBlocks == 0 {
		cfg.QueryChunkBlocks = 500
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Orchestrator{
		cfg:       cfg,
		source:    source,
		processor: processor,
		jobs:      jobs,
		log:       log.With("component", "replay", "chain_id", source.ChainID()),
		sleep:     sleepContext,
	}
}

// ChainID returns the chain this orchestrator replays
func (o *Orchestrator) ChainID() int64 {
	return o.source.ChainID()
}

// Head returns the latest confirmed block of the chain
func (o *Orchestrator) Head(ctx context.Context) (uint64, error) {
	return o.source.BlockNumber(ctx)
}

// ProcessBlockRange replays [start, end] once. Event failures are counted,
// only query failures fail the pass.
func (o *Orchestrator) ProcessBlockRange(ctx context.Context, start, end uint64) (Stats, error) {
	return o.processBlockRange(ctx, start, end, 1)
}

// RunWithRetry replays [start, end] up to MaxRetries times and returns
// *errors.ReplayExhaustedError when every attempt failed.
func (o *Orchestrator) RunWithRetry(ctx context.Context, start, end uint64) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		_, err := o.processBlockRange(ctx, start, end, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.log.Errorw("Replay attempt failed", "attempt", attempt, "max_attempts", o.cfg.MaxRetries, "error", err)
		if attempt < o.cfg.MaxRetries {
			o.log.Warnw("Retrying replay", "delay", o.cfg.RetryDelay)
			if err := o.sleep(ctx, o.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}

	o.log.Errorw("All replay attempts failed", "start_block", start, "end_block", end)
	return &errors.ReplayExhaustedError{
		StartBlock: start,
		EndBlock:   end,
		Attempts:   o.cfg.MaxRetries,
		LastErr:    lastErr,
	}
}

func (o *Orchestrator) processBlockRange(ctx context.Context, start, end uint64, attempt int) (Stats, error) {
	stats := Stats{ChainID: o.source.ChainID(), StartBlock: start, EndBlock: end}
	if start > end {
		return stats, errors.NewValidationError("start_block", "start block is after end block", start)
	}

	began := time.Now()
	job := replay.NewJob(stats.ChainID, start, end, attempt)
	o.saveJob(ctx, job, true)

	o.log.Infow("Replaying block range", "start_block", start, "end_block", end, "attempt", attempt)

	err := o.replay(ctx, start, end, &stats)
	stats.Duration = time.Since(began)

	job.Processed, job.HighRisk, job.Failed = stats.Processed, stats.HighRisk, stats.Failed
	job.Finish(err)
	o.saveJob(ctx, job, false)

	metrics.RecordReplay(strconv.FormatInt(stats.ChainID, 10), stats.Duration,
		stats.Processed, stats.HighRisk, stats.Failed, end, err)

	if err != nil {
		return stats, err
	}

	o.log.Infow("Replay finished",
		"events", humanize.Comma(int64(stats.TotalEvents)),
		"processed", humanize.Comma(int64(stats.Processed)),
		"skipped", humanize.Comma(int64(stats.Skipped)),
		"high_risk", stats.HighRisk,
		"failed", stats.Failed,
		"blocks", humanize.Comma(int64(end-start+1)),
		"duration", stats.Duration.Round(time.Millisecond).String(),
	)
	return stats, nil
}

func (o *Orchestrator) replay(ctx context.Context, start, end uint64, stats *Stats) error {
	pool := pond.NewPool(o.cfg.BatchSize)
	defer pool.StopAndWait()

	for from := start; from <= end; {
		to := from + o.cfg.QueryChunkBlocks - 1
		if to > end || to < from {
			to = end
		}

		events, err := o.source.QueryEvents(ctx, from, to)
		if err != nil {
			return errors.Wrapf(err, "query blocks %d-%d", from, to)
		}
		if len(events) == 0 {
			o.log.Debugw("No events in block range", "from", from, "to", to)
		}
		stats.TotalEvents += len(events)

		for i := 0; i < len(events); i += o.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			batchEnd := min(i+o.cfg.BatchSize, len(events))
			o.runBatch(ctx, pool, events[i:batchEnd], stats)

			o.log.Infow("Replay progress",
				"blocks", humanize.Comma(int64(to-start+1))+"/"+humanize.Comma(int64(end-start+1)),
				"events", batchEnd,
				"chunk_events", len(events),
				"processed", stats.Processed,
				"failed", stats.Failed,
			)
		}

		if to == end {
			break
		}
		from = to + 1
	}
	return nil
}

// runBatch processes events concurrently and waits for all of them
func (o *Orchestrator) runBatch(ctx context.Context, pool pond.Pool, batch []event.RawEvent, stats *Stats) {
	var processed, skipped, highRisk, failed atomic.Int64

	group := pool.NewGroupContext(ctx)
	for _, raw := range batch {
		group.Submit(func() {
			out, err := o.processor.ProcessEvent(ctx, event.SourceReplay, raw)
			switch {
			case err != nil:
				failed.Add(1)
				o.log.Warnw("Replay event failed", "tx_hash", raw.TxHash, "block", raw.BlockNumber, "error", err)
			case out == nil || out.Skipped:
				skipped.Add(1)
			default:
				processed.Add(1)
				if out.Report != nil && out.Report.Level.AtLeast(risk.LevelHigh) {
					highRisk.Add(1)
				}
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		o.log.Warnw("Replay batch group error", "error", err)
	}

	stats.Processed += int(processed.Load())
	stats.Skipped += int(skipped.Load())
	stats.HighRisk += int(highRisk.Load())
	stats.Failed += int(failed.Load())
}

func (o *Orchestrator) saveJob(ctx context.Context, job *replay.Job, create bool) {
	if o.jobs == nil {
		return
	}
	jctx := context.WithoutCancel(ctx)
	var err error
	if create {
		err = o.jobs.Create(jctx, job)
	} else {
		err = o.jobs.Update(jctx, job)
	}
	if err != nil {
		o.log.Warnw("Failed to persist replay job", "job_id", job.ID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

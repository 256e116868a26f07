package replayservice

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Replayer is one chain's orchestrator as seen by the scheduler
type Replayer interface {
	ChainID() int64
	Head(ctx context.Context) (uint64, error)
	RunWithRetry(ctx context.Context, start, end uint64) error
}

// CronScheduler periodically replays the most recent blocks of every chain
type CronScheduler struct {
	cron      *cron.Cron
	spec      string
	lookback  uint64
	replayers []Replayer
	running   atomic.Bool
	ctx       context.Context
	log       *logger.Logger
}

// NewCronScheduler creates a scheduler running spec (standard 5-field cron syntax)
func NewCronScheduler(spec string, lookback uint64, log *logger.Logger, replayers ...Replayer) (*CronScheduler, error) {
	log = log.With("component", "replay_scheduler")
	s := &CronScheduler{
		spec:      spec,
		lookback:  lookback,
		replayers: replayers,
		ctx:       context.Background(),
		log:       log,
	}

	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{log})))
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse cron spec %q", spec), errors.ErrInvalidInput)
	}
	return s, nil
}

// Start begins scheduling; runs stop when ctx is cancelled
func (s *CronScheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Infow("Replay scheduler started", "spec", s.spec, "chains", len(s.replayers), "lookback_blocks", s.lookback)
}

// Stop stops scheduling and waits for a running replay to finish
func (s *CronScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Replay scheduler stopped")
}

// RunOnce replays the lookback window of every chain. It returns false when
// skipped because the previous run is still in flight.
func (s *CronScheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("Previous replay still running, skipping this run")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	for _, r := range s.replayers {
		if ctx.Err() != nil {
			break
		}
		log := s.log.With("chain_id", r.ChainID())

		head, err := r.Head(ctx)
		if err != nil {
			log.Errorw("Failed to read chain head", "error", err)
			continue
		}
		from := uint64(0)
		if head > s.lookback {
			from = head - s.lookback
		}

		if err := r.RunWithRetry(ctx, from, head); err != nil {
			log.Errorw("Scheduled replay failed", "start_block", from, "end_block", head, "error", err)
			continue
		}
		log.Infow("Scheduled replay completed", "start_block", from, "end_block", head)
	}

	s.log.Infow("Scheduled replay run finished", "duration", time.Since(start).Round(time.Millisecond).String())
	return true
}

// cronLogger adapts the zap logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

package notify

import (
	"context"
	"time"

	"chainintel/internal/workers"
	"chainintel/pkg/logger"
)

// Sweeper flushes batch windows that outlived the batch window
type Sweeper interface {
	Sweep(ctx context.Context) int
	PendingWindows() int
}

// BatchSweeper delivers merged alerts for batch windows that never reached
// the flush size before going stale
type BatchSweeper struct {
	*workers.BaseWorker
	router Sweeper
}

// NewBatchSweeper creates the sweeper worker
func NewBatchSweeper(router Sweeper, interval time.Duration, enabled bool, log *logger.Logger) *BatchSweeper {
	return &BatchSweeper{
		BaseWorker: workers.NewBaseWorker("batch_sweeper", interval, enabled, log),
		router:     router,
	}
}

// Run flushes stale windows once
func (w *BatchSweeper) Run(ctx context.Context) error {
	flushed := w.router.Sweep(ctx)
	if flushed > 0 {
		w.Log().Infow("Stale batch windows flushed",
			"flushed", flushed,
			"pending", w.router.PendingWindows(),
		)
	}
	return nil
}

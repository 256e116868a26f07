package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"chainintel/internal/bootstrap"
	"chainintel/pkg/errors"
)

func main() {
	from := flag.Uint64("from", 0, "first block (default: head minus REPLAY_LOOKBACK_BLOCKS)")
	to := flag.Uint64("to", 0, "last block (default: chain head)")
	flag.Parse()

	container := bootstrap.NewContainer()
	container.MustInitReplay()
	log := container.Log

	ctx, stop := signal.NotifyContext(container.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container.StartSinks()

	start, end, err := blockRange(ctx, container, *from, *to)
	if err != nil {
		log.Errorw("Failed to resolve block range", "error", err)
		container.Shutdown()
		os.Exit(1)
	}

	log.Infow("Replay starting",
		"chain_id", container.Config.Chain.ID,
		"start_block", humanize.Comma(int64(start)),
		"end_block", humanize.Comma(int64(end)),
	)

	began := time.Now()
	err = container.Services.Replay.RunWithRetry(ctx, start, end)

	// no sweeper runs in a one-shot replay, so open windows are delivered here
	if n := container.Services.Router.FlushAll(context.WithoutCancel(ctx)); n > 0 {
		log.Infow("Replay batch windows flushed", "count", n)
	}
	container.Shutdown()

	var exhausted *errors.ReplayExhaustedError
	switch {
	case errors.As(err, &exhausted):
		log.Errorw("Replay exhausted retries", "attempts", exhausted.Attempts, "error", exhausted.LastErr)
		os.Exit(1)
	case err != nil:
		log.Errorw("Replay failed", "error", err)
		os.Exit(1)
	}

	log.Infow("Replay finished", "elapsed", time.Since(began).Round(time.Millisecond).String())
}

// blockRange fills in omitted bounds from the chain head and the configured lookback
func blockRange(ctx context.Context, c *bootstrap.Container, from, to uint64) (uint64, uint64, error) {
	if to == 0 {
		head, err := c.Services.Replay.Head(ctx)
		if err != nil {
			return 0, 0, err
		}
		to = head
	}
	if from == 0 {
		lookback := c.Config.Replay.LookbackBlocks
		if to > lookback {
			from = to - lookback
		}
	}
	if from > to {
		return 0, 0, errors.NewValidationError("from", "must not exceed --to", from)
	}
	return from, to, nil
}

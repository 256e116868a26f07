package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chainintel/internal/bootstrap"
	"chainintel/pkg/errors"
)

func main() {
	container := bootstrap.NewContainer()
	container.MustInit()

	if err := container.Start(); err != nil {
		container.Log.Fatalf("failed to start: %v", err)
	}

	g, ctx := errgroup.WithContext(container.Context)

	g.Go(func() error {
		return container.RunIngest(ctx)
	})

	g.Go(func() error {
		return waitForShutdown(ctx, container.Cancel)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		container.Log.Errorw("Ingest stopped with error", "error", err)
	}

	container.Log.Info("Shutting down...")
	container.Shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

// waitForShutdown blocks until a signal arrives or ctx ends, then cancels the container
func waitForShutdown(ctx context.Context, cancel context.CancelFunc) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	cancel()
	return nil
}

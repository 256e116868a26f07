package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/pkg/logger"
)

type fakeSweeper struct {
	pending int
	sweeps  int
}

func (f *fakeSweeper) Sweep(context.Context) int {
	f.sweeps++
	n := f.pending
	f.pending = 0
	return n
}

func (f *fakeSweeper) PendingWindows() int { return f.pending }

func TestBatchSweeper_Run(t *testing.T) {
	router := &fakeSweeper{pending: 2}
	w := NewBatchSweeper(router, time.Minute, true, logger.Nop())

	require.NoError(t, w.Run(context.Background()))
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 2, router.sweeps)
	assert.Zero(t, router.pending)
	assert.Equal(t, "batch_sweeper", w.Name())
	assert.Equal(t, time.Minute, w.Interval())
}

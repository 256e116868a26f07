package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/pkg/errors"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("dial tcp: connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.NewValidationError("block", "negative", -1)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsValidation(err))
}

func TestDo_ExhaustsBudget(t *testing.T) {
	var waits []time.Duration
	cfg := Fixed(3, time.Millisecond)
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		waits = append(waits, wait)
	}

	cause := fmt.Errorf("boom")
	err := Do(context.Background(), cfg, func(ctx context.Context) error { return cause })

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond}, waits)
}

func TestDoWithResult_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Fixed(10, time.Hour)

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("still failing")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestDelay_Exponential(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}.normalized()

	assert.Equal(t, 100*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 400*time.Millisecond, cfg.delay(2))
	assert.Equal(t, time.Second, cfg.delay(10))
}

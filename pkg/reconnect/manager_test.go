package reconnect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(cfg, logger.Nop())
	m.now = clock.now
	return m, clock
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, logger.Nop())

	assert.Equal(t, time.Second, m.minBackoff)
	assert.Equal(t, 5*time.Minute, m.maxBackoff)
	assert.Equal(t, 2.0, m.backoffMultiplier)
	assert.Equal(t, 10, m.maxRetries)
	assert.Equal(t, 60*time.Second, m.heartbeatTimeout)
	assert.Equal(t, 5*time.Minute, m.circuitResetAfter)
	assert.Equal(t, time.Second, m.GetBackoff())
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	m, _ := newTestManager(Config{MinBackoff: time.Second, MaxBackoff: 5 * time.Second, MaxRetries: 100})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		m.RecordFailure()
		assert.Equal(t, w, m.GetBackoff(), "failure %d", i+1)
	}

	m.RecordSuccess()
	assert.Equal(t, time.Second, m.GetBackoff())
	assert.Zero(t, m.GetStats().ConsecutiveFailures)
}

func TestCircuitBreaker(t *testing.T) {
	m, clock := newTestManager(Config{MaxRetries: 3, CircuitResetAfter: time.Minute})

	for i := 0; i < 2; i++ {
		m.RecordFailure()
		assert.True(t, m.ShouldRetry())
	}

	m.RecordFailure()
	assert.True(t, m.GetStats().CircuitOpen)
	assert.False(t, m.ShouldRetry())

	err := m.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrCircuitOpen))

	// Half-open after the reset period
	clock.advance(time.Minute)
	assert.True(t, m.ShouldRetry())

	// A failed half-open attempt re-opens for a full period
	m.RecordFailure()
	assert.False(t, m.ShouldRetry())

	clock.advance(time.Minute)
	m.RecordSuccess()
	assert.False(t, m.GetStats().CircuitOpen)
	assert.True(t, m.ShouldRetry())
}

func TestStallDetection(t *testing.T) {
	m, clock := newTestManager(Config{HeartbeatTimeout: 30 * time.Second})

	assert.False(t, m.Stalled(), "no message yet is not a stall")
	_, ok := m.SinceLastMessage()
	assert.False(t, ok)

	m.RecordMessageReceived()
	clock.advance(30 * time.Second)
	assert.False(t, m.Stalled())

	clock.advance(time.Second)
	assert.True(t, m.Stalled())
	since, ok := m.SinceLastMessage()
	require.True(t, ok)
	assert.Equal(t, 31*time.Second, since)

	m.RecordMessageReceived()
	assert.False(t, m.Stalled())
}

func TestWait(t *testing.T) {
	m, _ := newTestManager(Config{MinBackoff: time.Millisecond})
	require.NoError(t, m.Wait(context.Background()))

	slow, _ := newTestManager(Config{MinBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, slow.Wait(ctx), context.Canceled)
}

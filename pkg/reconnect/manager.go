package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// ErrCircuitOpen is returned once MaxRetries consecutive attempts have failed
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Manager paces reconnection of a long-lived stream (head subscription, consumer)
// with exponential backoff, a circuit breaker and a heartbeat for stall detection.
type Manager struct {
	minBackoff        time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	maxRetries        int
	heartbeatTimeout  time.Duration
	circuitResetAfter time.Duration

	mu                  sync.RWMutex
	currentBackoff      time.Duration
	consecutiveFailures int
	totalReconnects     int
	circuitOpen         bool
	circuitOpenedAt     time.Time

	// Unix nanoseconds of the last message, zero before the first one
	lastMessage atomic.Int64

	now    func() time.Time
	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	MinBackoff        time.Duration // Initial backoff (e.g. 1s)
	MaxBackoff        time.Duration // Max backoff (e.g. 5min)
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g. 2.0)
	MaxRetries        int           // Consecutive failures before the circuit opens (0 = default 10)
	HeartbeatTimeout  time.Duration // Silence longer than this counts as a stall
	CircuitResetAfter time.Duration // How long an open circuit stays open
}

// NewManager creates a new reconnect manager with sensible defaults
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.MinBackoff == 0 {
		config.MinBackoff = 1 * time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 10
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 60 * time.Second
	}
	if config.CircuitResetAfter == 0 {
		config.CircuitResetAfter = 5 * time.Minute
	}

	return &Manager{
		minBackoff:        config.MinBackoff,
		maxBackoff:        config.MaxBackoff,
		backoffMultiplier: config.BackoffMultiplier,
		maxRetries:        config.MaxRetries,
		heartbeatTimeout:  config.HeartbeatTimeout,
		circuitResetAfter: config.CircuitResetAfter,
		currentBackoff:    config.MinBackoff,
		now:               time.Now,
		logger:            log,
	}
}

// RecordMessageReceived updates the heartbeat. Call it for every message (e.g. new head).
func (m *Manager) RecordMessageReceived() {
	m.lastMessage.Store(m.now().UnixNano())
}

// SinceLastMessage reports how long the stream has been silent.
// The second result is false before the first message.
func (m *Manager) SinceLastMessage() (time.Duration, bool) {
	last := m.lastMessage.Load()
	if last == 0 {
		return 0, false
	}
	return m.now().Sub(time.Unix(0, last)), true
}

// Stalled is true when a message was seen once and nothing arrived within the heartbeat timeout
func (m *Manager) Stalled() bool {
	since, ok := m.SinceLastMessage()
	return ok && since > m.heartbeatTimeout
}

// ShouldRetry returns whether we should attempt reconnection
func (m *Manager) ShouldRetry() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.circuitOpen {
		return m.now().Sub(m.circuitOpenedAt) >= m.circuitResetAfter
	}
	return m.consecutiveFailures < m.maxRetries
}

// GetBackoff returns current backoff duration
func (m *Manager) GetBackoff() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentBackoff
}

// RecordFailure records a failed or dropped connection and grows the backoff
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++

	next := time.Duration(float64(m.currentBackoff) * m.backoffMultiplier)
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.currentBackoff = next

	m.logger.Warnw("Connection failed",
		"consecutive_failures", m.consecutiveFailures,
		"next_backoff", m.currentBackoff,
	)

	// A failed half-open attempt re-opens the circuit for another full period
	if m.consecutiveFailures >= m.maxRetries {
		m.circuitOpen = true
		m.circuitOpenedAt = m.now()

		m.logger.Errorw("🔴 Circuit breaker OPENED - too many consecutive failures",
			"consecutive_failures", m.consecutiveFailures,
			"max_retries", m.maxRetries,
			"circuit_reset_after", m.circuitResetAfter,
		)
	}
}

// RecordSuccess resets backoff and closes the circuit
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > 0 {
		m.logger.Infow("✅ Reconnected, resetting backoff",
			"previous_consecutive_failures", m.consecutiveFailures,
		)
	}

	m.currentBackoff = m.minBackoff
	m.consecutiveFailures = 0
	m.totalReconnects++

	if m.circuitOpen {
		m.logger.Infow("🟢 Circuit breaker CLOSED - connection restored",
			"total_reconnects", m.totalReconnects,
		)
		m.circuitOpen = false
		m.circuitOpenedAt = time.Time{}
	}

	m.lastMessage.Store(m.now().UnixNano())
}

// GetStats returns current reconnect manager stats
func (m *Manager) GetStats() Stats {
	since, _ := m.SinceLastMessage()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		ConsecutiveFailures:  m.consecutiveFailures,
		TotalReconnects:      m.totalReconnects,
		CurrentBackoff:       m.currentBackoff,
		CircuitOpen:          m.circuitOpen,
		TimeSinceLastMessage: since,
	}
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures  int
	TotalReconnects      int
	CurrentBackoff       time.Duration
	CircuitOpen          bool
	TimeSinceLastMessage time.Duration
}

// Wait sleeps for the current backoff. It fails with ErrCircuitOpen when retries are
// exhausted and the circuit has not been open long enough to try again.
func (m *Manager) Wait(ctx context.Context) error {
	if !m.ShouldRetry() {
		m.mu.RLock()
		failures := m.consecutiveFailures
		m.mu.RUnlock()
		return errors.Wrapf(ErrCircuitOpen, "%d consecutive failures", failures)
	}

	backoff := m.GetBackoff()
	m.logger.Infow("⏳ Waiting before reconnect attempt", "backoff", backoff)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

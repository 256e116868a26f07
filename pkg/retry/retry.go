package retry

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"chainintel/pkg/errors"
)

// Strategy defines the retry strategy
type Strategy string

const (
	// StrategyExponential uses exponential backoff
	StrategyExponential Strategy = "exponential"
	// StrategyLinear uses linear backoff
	StrategyLinear Strategy = "linear"
	// StrategyFixed uses fixed delay
	StrategyFixed Strategy = "fixed"
)

// Config contains retry configuration.
// MaxAttempts counts the first call, so MaxAttempts=3 means one call plus two retries.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Multiplier   float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool

	// OnRetry is called before each wait
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultConfig returns the backoff used for RPC calls
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Strategy:     StrategyExponential,
		Multiplier:   2.0,
	}
}

// Fixed returns a config that waits the same delay between every attempt and
// retries any error
func Fixed(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Strategy:     StrategyFixed,
		Retryable:    func(err error) bool { return err != nil },
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Strategy == "" {
		c.Strategy = StrategyExponential
	}
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The returned error wraps the last failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for functions that return a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(err, "retry cancelled")
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delay(attempt - 1)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
	}

	return zero, errors.Wrapf(lastErr, "max attempts (%d) exceeded", cfg.MaxAttempts)
}

func (c Config) delay(attempt int) time.Duration {
	var d time.Duration

	switch c.Strategy {
	case StrategyExponential:
		d = time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt)))
	case StrategyLinear:
		d = c.InitialDelay * time.Duration(1+attempt)
	default:
		d = c.InitialDelay
	}

	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"header not found",
	"eof",
}

// IsTransient reports whether err looks like a network or node hiccup
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.IsValidation(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

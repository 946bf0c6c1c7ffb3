package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for ledger reads, RPC dials and
// proof lookups. It is embedded in the config file under chain.retry.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"` // 0 = single attempt, -1 = unlimited
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"` // fraction of the delay, 0.0 - 1.0

	// RetryIf decides whether an error is retryable; nil retries everything
	// except errors marked with MarkNonRetryable.
	RetryIf func(error) bool `yaml:"-"`

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration) `yaml:"-"`
}

// DefaultRetryConfig returns the defaults used for ledger reads and proof lookups
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// WithOnRetry returns a copy of c that reports retries to fn.
func (c RetryConfig) WithOnRetry(fn func(attempt int, err error, wait time.Duration)) *RetryConfig {
	c.OnRetry = fn
	return &c
}

// RetryResult describes how a retried operation went.
type RetryResult struct {
	Attempts  int
	LastError error // nil on success
	Duration  time.Duration
}

var (
	// ErrMaxRetriesExceeded is joined with the last error when attempts run out
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrContextCanceled is joined with ctx.Err() when ctx ends during backoff
	ErrContextCanceled = errors.New("context canceled during retry")
)

// RetryWithValue calls fn until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx ends. A nil config uses DefaultRetryConfig.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool { return !IsNonRetryable(err) }
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()
	done := func(err error) (T, *RetryResult) {
		result.LastError = err
		result.Duration = time.Since(start)
		return zero, result
	}

	for {
		result.Attempts++

		val, err := fn()
		if err == nil {
			result.Duration = time.Since(start)
			return val, result
		}
		if !retryIf(err) {
			return done(err)
		}
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			return done(errors.Join(ErrMaxRetriesExceeded, err))
		}

		wait := config.delay(result.Attempts)
		if config.OnRetry != nil {
			config.OnRetry(result.Attempts, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return done(errors.Join(ErrContextCanceled, ctx.Err()))
		case <-timer.C:
		}
	}
}

// delay is BaseDelay * Multiplier^(attempt-1), jittered, capped at MaxDelay.
func (c *RetryConfig) delay(attempt int) time.Duration {
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	d := float64(c.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if c.Jitter > 0 {
		spread := d * c.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// NonRetryableError marks an error that retrying cannot fix, such as a
// reverted call or an unknown transaction.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// MarkNonRetryable wraps err so RetryWithValue returns it immediately.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with MarkNonRetryable.
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// Package retry implements the retry-wrapped transport used for all
// requests against the remote service.
//
// Calls are retried with capped exponential backoff and jitter when the
// failure is classified as transient. Fatal failures and context
// cancellation surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config controls backoff behavior. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between successive retries.
	Multiplier float64

	// Jitter is the fraction of the delay randomized in both directions
	// (0.2 means +/-20%), so concurrently polling clients spread out.
	Jitter float64
}

// DefaultConfig returns the backoff defaults used against the service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

func (c Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be positive, got %s", c.BaseDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", c.Multiplier)
	}
	return nil
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// OnRetryFunc observes retry attempts. It is called after a transient
// failure, before the backoff sleep. attempt is 1-based and counts the
// attempt that just failed. This is the transport's only side effect;
// use it for logging and metrics.
type OnRetryFunc func(attempt int, delay time.Duration, err error)

// ExhaustedError is returned when all attempts failed with transient
// errors. It wraps the last error observed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Retrier wraps operations with backoff-and-retry behavior. It holds no
// per-call state and is safe for concurrent use.
type Retrier struct {
	cfg     Config
	retry   Classifier
	onRetry OnRetryFunc
}

// New builds a Retrier. isRetryable decides which errors are transient;
// onRetry may be nil.
func New(cfg Config, isRetryable Classifier, onRetry OnRetryFunc) (*Retrier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if isRetryable == nil {
		return nil, errors.New("retry: classifier is required")
	}
	return &Retrier{cfg: cfg, retry: isRetryable, onRetry: onRetry}, nil
}

// Do invokes op until it succeeds, fails fatally, exhausts the attempt
// budget, or ctx is canceled. The backoff sleep observes ctx, so
// cancellation latency is bounded by one check, not the full delay.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.retry(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: r.cfg.MaxAttempts, Err: lastErr}
}

// delay computes the backoff for the given 1-based failed attempt.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	if max := float64(r.cfg.MaxDelay); r.cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if r.cfg.Jitter > 0 {
		d += d * r.cfg.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is canceled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

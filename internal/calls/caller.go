// internal/calls/caller.go
package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solana-trench-bot/internal/trading"
)

// Call categories. Each category owns its own token bucket so a burst of
// price polls can never starve swap submissions.
const (
	CategoryPrice  = "price"
	CategorySwap   = "swap"
	CategoryNotify = "notify"
)

// Limits configures the token bucket for one call category.
type Limits struct {
	PerSecond float64       // refill rate
	Burst     int           // bucket capacity
	MaxWait   time.Duration // bounded wait for a token before ErrRateLimited
}

// RetryPolicy configures the exponential backoff applied to transient
// failures.
type RetryPolicy struct {
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	MaxAttempts    uint
	Jitter         float64 // randomization factor, 0 disables jitter
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy mirrors the retry ceiling used for swap submissions.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:   200 * time.Millisecond,
		Multiplier:     2.0,
		MaxDelay:       5 * time.Second,
		MaxAttempts:    3,
		Jitter:         0.3,
		AttemptTimeout: 10 * time.Second,
	}
}

// Caller wraps every external operation with token-bucket throttling, a
// per-attempt timeout and bounded exponential-backoff retry. Bucket state
// is the only shared mutable state and is guarded by the limiter itself.
type Caller struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	waits    map[string]time.Duration
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewCaller creates a caller with the given per-category limits.
func NewCaller(limits map[string]Limits, policy RetryPolicy, logger *zap.Logger) *Caller {
	c := &Caller{
		limiters: make(map[string]*rate.Limiter, len(limits)),
		waits:    make(map[string]time.Duration, len(limits)),
		policy:   policy,
		logger:   logger.Named("caller"),
	}
	for category, l := range limits {
		c.limiters[category] = rate.NewLimiter(rate.Limit(l.PerSecond), l.Burst)
		c.waits[category] = l.MaxWait
	}
	return c
}

func (c *Caller) limiter(category string) (*rate.Limiter, time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lim, ok := c.limiters[category]
	if !ok {
		return nil, 0, fmt.Errorf("unknown call category %q", category)
	}
	return lim, c.waits[category], nil
}

// acquire blocks cooperatively for a bucket token up to the category's max
// wait, then fails with ErrRateLimited.
func (c *Caller) acquire(ctx context.Context, category string) error {
	lim, maxWait, err := c.limiter(category)
	if err != nil {
		return err
	}
	waitCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	if err := lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Rate limit wait exhausted", zap.String("category", category))
		return fmt.Errorf("category %s: %w", category, trading.ErrRateLimited)
	}
	return nil
}

// Call runs op under the category's rate limit with retry. Each attempt
// consumes a bucket token and carries its own timeout. Non-retryable errors
// (per trading.IsRetryable) and rate-limit exhaustion surface immediately;
// transient errors are retried until the attempt budget runs out, after
// which the last error is returned.
func Call[T any](ctx context.Context, c *Caller, category string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		var zero T
		attempt++
		if err := c.acquire(ctx, category); err != nil {
			// Rate-limit exhaustion is not retried within the same call.
			return zero, backoff.Permanent(err)
		}

		attemptCtx := ctx
		if c.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
			defer cancel()
		}

		res, err := op(attemptCtx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", trading.ErrTimeout, err)
		}
		if !trading.IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		c.logger.Debug("Transient call failure, will retry",
			zap.String("category", category),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return zero, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.policy.InitialDelay
	bo.Multiplier = c.policy.Multiplier
	bo.MaxInterval = c.policy.MaxDelay
	bo.RandomizationFactor = c.policy.Jitter

	maxTries := c.policy.MaxAttempts
	if maxTries == 0 {
		maxTries = 1
	}

	res, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		c.logger.Debug("Call failed",
			zap.String("category", category),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
	return res, err
}

// Do is Call for operations without a result.
func Do(ctx context.Context, c *Caller, category string, op func(ctx context.Context) error) error {
	_, err := Call(ctx, c, category, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

package ai

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/hirebot/internal/utils"
	"go.uber.org/zap"
)

const (
	defaultBaseDelay     = time.Second
	defaultMaxDelay      = 20 * time.Second
	defaultMaxRetryAfter = 30 * time.Second
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxRetryAfter bounds provider-requested delays; longer ones are not waited out.
	MaxRetryAfter time.Duration
	// Wait defaults to utils.WaitFor.
	Wait func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = defaultMaxRetryAfter
	}
	if p.Wait == nil {
		p.Wait = utils.WaitFor
	}
	return p
}

// Retry calls fn until it succeeds, fails permanently or the attempts run out.
// Only errors classified by IsTransient are retried.
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func(ctx context.Context) (string, error)) (string, error) {
	policy = policy.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return "", err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		delay := utils.Backoff(attempt, policy.BaseDelay, policy.MaxDelay)
		var transient *TransientError
		if errors.As(err, &transient) && transient.RetryAfter > 0 {
			if transient.RetryAfter > policy.MaxRetryAfter {
				logger.Warn("provider asked for a long delay, giving up",
					zap.Duration("retry_after", transient.RetryAfter),
					zap.Error(err),
				)
				return "", err
			}
			delay = transient.RetryAfter
		}

		logger.Warn("transient model error, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := policy.Wait(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

package engine

import (
	"context"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/transport"
)

// backoffPolicy controls the in-run retry loop around one remote operation.
// The ceiling is the total number of attempts; delays double between
// attempts up to the configured maximum.
type backoffPolicy struct {
	initial time.Duration
	max     time.Duration
	ceiling int
}

func backoffFromConfig(cfg *config.Config) backoffPolicy {
	policy := backoffPolicy{
		initial: time.Duration(cfg.Backend.RetryBackoff) * time.Second,
		max:     time.Duration(cfg.Backend.RetryBackoffMax) * time.Second,
		ceiling: cfg.Backend.MaxRetries,
	}
	if policy.initial <= 0 {
		policy.initial = time.Second
	}
	if policy.max < policy.initial {
		policy.max = policy.initial
	}
	if policy.ceiling < 1 {
		policy.ceiling = 1
	}
	return policy
}

func (p backoffPolicy) delay(attempt int) time.Duration {
	d := p.initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	return d
}

// retryTransient runs op until it succeeds, fails permanently, or the retry
// ceiling is reached. onFailure is invoked after every transient failure and
// must return the item's updated retry count; when that count reaches the
// ceiling the last error is returned. Context cancellation stops the loop
// without charging a retry.
func retryTransient(ctx context.Context, policy backoffPolicy, op func() error, onFailure func(err error) int) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !transport.Retryable(err) {
			return err
		}
		if onFailure(err) >= policy.ceiling {
			return err
		}
		if err := sleepContext(ctx, policy.delay(attempt)); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

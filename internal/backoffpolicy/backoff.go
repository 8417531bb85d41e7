/*
 * internal/backoffpolicy/backoff.go
 *
 * Shared retry/backoff policy used by the Store Adapter, Full Sync Engine,
 * and Watch Engine: initial 1s, multiplier 2, max 30s, ±25% jitter.
 */

package backoffpolicy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kubemirror/syncengine/internal/config"
)

// fatalError marks an error as non-retryable (e.g. authentication/
// authorization failures). Wrap a terminal error with Fatal to stop
// retrying immediately.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps err so Run treats it as terminal and returns without retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was wrapped with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Policy describes a bounded exponential backoff with jitter. The delay
// schedule is generated by github.com/cenkalti/backoff/v5's
// ExponentialBackOff.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// FromConfig builds a Policy from resolved configuration.
func FromConfig(cfg config.Config) Policy {
	return Policy{
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Multiplier:   cfg.RetryBackoffMultiplier,
		MaxAttempts:  cfg.RetryMaxAttempts,
	}
}

// newExponential builds the cenkalti/backoff/v5 ExponentialBackOff generator
// matching this Policy's parameters. RandomizationFactor of 0.25 gives the
// ±25% jitter.
func (p Policy) newExponential() *backoff.ExponentialBackOff {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = config.DefaultRetryInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = config.DefaultRetryMaxDelay
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = config.DefaultRetryBackoffMultiplier
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxDelay
	eb.Multiplier = mult
	eb.RandomizationFactor = 0.25
	return eb
}

// DelayForAttempt returns the backoff delay before attempt N (1-indexed),
// with ±25% jitter applied.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	eb := p.newExponential()
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return config.DefaultRetryMaxAttempts
	}
	return p.MaxAttempts
}

// Run executes fn, calling it at most MaxAttempts times in total with the
// configured backoff between attempts. Errors wrapped with Fatal skip
// remaining retries and surface with the Fatal wrapper stripped. The
// MaxAttempts-th failure surfaces unwrapped to the caller.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.maxAttempts()
	eb := p.newExponential()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var fe *fatalError
		if errors.As(err, &fe) {
			return fe.Unwrap()
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(eb.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

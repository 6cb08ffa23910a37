package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the single retry/backoff policy applied uniformly around every
// stage invocation. Permanent failures short-circuit; transient failures are
// retried with exponential backoff up to the attempt budget.
type Policy struct {
	MaxAttempts     int
	StageTimeout    time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Attempt describes one invocation of an operation under the policy.
type Attempt struct {
	Number    int
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Run invokes op under the policy. Each attempt gets its own wall-clock
// timeout; a deadline hit is classified transient. observe, when non-nil, is
// called after every attempt so the caller can record history.
func (p Policy) Run(ctx context.Context, op func(context.Context) error, observe func(Attempt)) error {
	attempt := 0
	var lastErr error

	invoke := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, p.StageTimeout)
		started := time.Now()
		err := op(actx)
		deadlineHit := actx.Err() == context.DeadlineExceeded
		cancel()

		if err != nil && deadlineHit && !IsPermanent(err) {
			err = Transient("stage timed out", err)
		}

		if observe != nil {
			observe(Attempt{Number: attempt, StartedAt: started, EndedAt: time.Now(), Err: err})
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || IsValidation(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}

	if err := backoff.Retry(invoke, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		// Context cancelled before the first attempt ran.
		return Transient("operation aborted", err)
	}
	return nil
}

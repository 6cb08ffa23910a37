package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		StageTimeout:    200 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	calls := 0
	var attempts []Attempt

	err := testPolicy().Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transientf("engine warming up")
		}
		return nil
	}, func(a Attempt) { attempts = append(attempts, a) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, attempts, 3)
	assert.Error(t, attempts[0].Err)
	assert.Error(t, attempts[1].Err)
	assert.NoError(t, attempts[2].Err)
	assert.Equal(t, 1, attempts[0].Number)
	assert.Equal(t, 3, attempts[2].Number)
}

func TestRunStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := testPolicy().Run(context.Background(), func(context.Context) error {
		calls++
		return Permanentf("unsupported audio format")
	}, nil)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls, "permanent failures must not be retried")
}

func TestRunStopsOnValidationError(t *testing.T) {
	calls := 0
	err := testPolicy().Run(context.Background(), func(context.Context) error {
		calls++
		return Validationf("bad input")
	}, nil)

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 1, calls)
}

func TestRunExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := testPolicy().Run(context.Background(), func(context.Context) error {
		calls++
		return Transientf("still down")
	}, nil)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestRunClassifiesAttemptTimeoutAsTransient(t *testing.T) {
	p := testPolicy()
	p.MaxAttempts = 2
	p.StageTimeout = 10 * time.Millisecond

	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 2, calls, "timeouts are retried like any transient failure")
}

func TestRunHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := testPolicy().Run(ctx, func(context.Context) error {
		calls++
		return Transientf("still down")
	}, nil)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, calls, "a cancelled context stops further attempts")
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("some engine hiccup")))
	assert.Equal(t, KindPermanent, KindOf(Permanent("decode", errors.New("bad json"))))
	assert.Equal(t, KindConflict, KindOf(Conflictf("already leased")))
	assert.Equal(t, KindNotFound, KindOf(NotFoundf("missing")))
	assert.Equal(t, KindValidation, KindOf(Validationf("empty id")))
}

func TestErrorUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("score transcript", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection refused")
}

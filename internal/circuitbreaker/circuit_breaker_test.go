package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing() error    { return errBoom }
func succeeding() error { return nil }

func TestNew(t *testing.T) {
	b := New("smtp", 5, 30*time.Second, 2)

	assert.Equal(t, "smtp", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestCall_Success(t *testing.T) {
	b := New("smtp", 3, 100*time.Millisecond, 1)

	err := b.Call(context.Background(), succeeding)

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestCall_FailureBelowThreshold(t *testing.T) {
	b := New("smtp", 3, 100*time.Millisecond, 1)

	err := b.Call(context.Background(), failing)

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.FailureCount())
}

func TestCall_OpensAfterThreshold(t *testing.T) {
	b := New("smtp", 3, 100*time.Millisecond, 1)

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), failing)
	}
	assert.Equal(t, StateOpen, b.State())

	// Rejected without executing fn.
	called := false
	err := b.Call(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCall_SuccessResetsCounter(t *testing.T) {
	b := New("smtp", 3, 100*time.Millisecond, 1)

	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, 2, b.FailureCount())

	require.NoError(t, b.Call(context.Background(), succeeding))
	assert.Equal(t, 0, b.FailureCount())
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("smtp", 2, 20*time.Millisecond, 1)

	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// First call after the recovery window is admitted as a trial.
	err := b.Call(context.Background(), succeeding)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_HalfOpenFailureReopens(t *testing.T) {
	b := New("smtp", 2, 20*time.Millisecond, 1)

	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err := b.Call(context.Background(), failing)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestCall_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := New("smtp", 1, 10*time.Millisecond, 1)

	_ = b.Call(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Call(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// Second probe while the first is in flight must be rejected.
	err := b.Call(context.Background(), succeeding)
	assert.ErrorIs(t, err, ErrOpen)
	close(release)
}

func TestCall_ContextCancelled(t *testing.T) {
	b := New("smtp", 3, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Call(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, 0, b.FailureCount())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}

package lock_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-one/lock"
)

// TestTryRun_HeldLock_ReturnsErrHeld verifies that:
//
//	Given a lock held by a running callback,
//	When a second caller tries to take it without waiting,
//	Then the second caller gets ErrHeld and its callback never runs.
func TestTryRun_HeldLock_ReturnsErrHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	ctx := context.Background()

	err := lock.Run(ctx, path, func(ctx context.Context, s lock.Scope) error {
		assert.Equal(t, path, s.Path())
		assert.Positive(t, s.FD())

		ran := false
		err := lock.TryRun(ctx, path, func(context.Context, lock.Scope) error {
			ran = true
			return nil
		})
		assert.ErrorIs(t, err, lock.ErrHeld)
		assert.False(t, ran)
		return nil
	})
	require.NoError(t, err)

	// Released once Run returns.
	require.NoError(t, lock.TryRun(ctx, path, func(context.Context, lock.Scope) error { return nil }))
}

// TestRun_WaitsUntilContextDone verifies that a waiting Run gives up
// with the context's error.
func TestRun_WaitsUntilContextDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	err := lock.Run(context.Background(), path, func(context.Context, lock.Scope) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		return lock.Run(ctx, path, func(context.Context, lock.Scope) error {
			t.Error("acquired a held lock")
			return nil
		})
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_PropagatesCallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := lock.Run(context.Background(), filepath.Join(t.TempDir(), ".lock"),
		func(context.Context, lock.Scope) error { return boom })
	assert.ErrorIs(t, err, boom)
}

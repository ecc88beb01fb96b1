// Package lock provides the cross-process instance lock that keeps two
// monitors from sharing a runtime directory.
//
// The lock is an exclusive flock(2) on {base}/.lock. Code that must run
// under it is passed to Run and receives a Scope, which can only be
// obtained that way, as proof the lock is held.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Scope is held for the duration of a Run callback.
type Scope interface {
	// FD returns the lock file descriptor, for diagnostics.
	FD() int
	// Path returns the lock file path.
	Path() string

	scopeMarker()
}

type scope struct {
	f *os.File
}

func (*scope) scopeMarker()   {}
func (s *scope) FD() int      { return int(s.f.Fd()) }
func (s *scope) Path() string { return s.f.Name() }

// ErrHeld is returned by TryRun when another process holds the lock.
var ErrHeld = errors.New("lock held by another process")

// Run acquires the lock at path, waiting with exponential backoff until
// it is free or ctx is done, then runs fn and releases the lock.
func Run(ctx context.Context, path string, fn func(context.Context, Scope) error) error {
	f, err := acquire(ctx, path, true)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, &scope{f: f})
}

// TryRun is Run without waiting: it returns ErrHeld at once if the lock
// is taken.
func TryRun(ctx context.Context, path string, fn func(context.Context, Scope) error) error {
	f, err := acquire(ctx, path, false)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, &scope{f: f})
}

func acquire(ctx context.Context, path string, wait bool) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		if !wait {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, ErrHeld)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxBackoff)
	}
}

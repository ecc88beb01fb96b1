package queue

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
)

// retry calls fn until it returns anything other than EINTR.
func retry(fn func() error) error {
	for {
		err := fn()
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

// retryTimed is retry for calls carrying a millisecond timeout. Each
// attempt gets the time remaining until the original deadline, so
// interruptions do not extend the wait. A timeout of zero never
// expires.
func retryTimed(timeoutMs uint32, fn func(timeoutMs uint32) error) error {
	if timeoutMs == 0 {
		return retry(func() error { return fn(0) })
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	remaining := timeoutMs
	for {
		err := fn(remaining)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return unix.ETIMEDOUT
		}
		// Round up so a sub-millisecond remainder does not become "forever".
		remaining = uint32((left + time.Millisecond - 1) / time.Millisecond)
	}
}

// translate maps a device failure onto the transport's error taxonomy.
func translate(op string, qid one.QID, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errno == unix.ETIMEDOUT {
		return one.ErrTimeout
	}
	return &one.TransportError{Op: op, QID: qid, Errno: errno}
}

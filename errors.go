package one

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by receive operations when the timeout elapsed
// before any packet arrived. It is not a transport failure.
var ErrTimeout = errors.New("receive timed out")

// ErrQueueBusy is returned when registering a queue that is already
// registered with a dispatcher.
type ErrQueueBusy struct {
	QID QID
}

func (e ErrQueueBusy) Error() string {
	return fmt.Sprintf("queue %d is already registered", e.QID)
}

// ErrQueueNotFound is returned when removing a queue that is not
// registered with a dispatcher.
type ErrQueueNotFound struct {
	QID QID
}

func (e ErrQueueNotFound) Error() string {
	return fmt.Sprintf("queue %d is not registered", e.QID)
}

// TransportError reports a control call the device rejected. Errno is
// the device's error code and is matched by errors.Is, so callers can
// test for e.g. unix.ENOENT directly.
type TransportError struct {
	Op    string
	QID   QID
	Errno unix.Errno
}

func (e *TransportError) Error() string {
	if e.QID == QIDNone {
		return fmt.Sprintf("%s: %v", e.Op, e.Errno)
	}
	return fmt.Sprintf("%s queue %d: %v", e.Op, e.QID, e.Errno)
}

func (e *TransportError) Unwrap() error {
	return e.Errno
}

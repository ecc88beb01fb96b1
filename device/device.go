// Package device defines the control-call boundary between the transport
// and the One queue device.
//
// A Device issues exactly one control call per method and reports the
// device's result unchanged: failures are returned as unix.Errno values,
// including EINTR and ETIMEDOUT. Retrying interrupted calls and mapping
// errno values onto the transport's error taxonomy is the job of the
// queue package, not of Device implementations.
//
// Scatter vectors ([][]byte) are described to the device for the
// duration of a call and never retained afterwards.
package device

import (
	one "github.com/frobware/go-one"
)

// QueueFlags are passed through to the device when creating a queue.
type QueueFlags uint32

// QueueFlagNone requests a queue with default behaviour.
const QueueFlagNone QueueFlags = 0

// EntryKind selects the kind of device entry SetName labels.
type EntryKind uint32

// EntryQueue labels a queue.
const EntryQueue EntryKind = 1

// MaxNameLen is the longest name the device stores, including the
// terminating NUL.
const MaxNameLen = 96

// Device is an open handle to the queue device.
type Device interface {
	// Create creates a queue. A requested QID of one.QIDNone asks the
	// device to allocate one.
	Create(flags QueueFlags, requested one.QID) (one.QID, error)

	// Destroy destroys a queue. Receivers blocked on it are woken with
	// an error.
	Destroy(qid one.QID) error

	// Attach forwards packets dispatched on qid to target as well.
	Attach(qid, target one.QID) error

	// Detach removes a forwarding relationship created by Attach.
	Detach(qid, target one.QID) error

	// Dispatch sends one packet. The payload is the concatenation of
	// iov; hdr.Size must equal its total length.
	Dispatch(hdr one.Header, iov [][]byte) error

	// Receive blocks until at least one packet is queued on any of
	// qids, a wakeup is issued for them, or timeoutMs elapses (0 means
	// no timeout). Whole packets, header first, are written
	// contiguously across iov. It returns the number of bytes written;
	// zero means the call was woken.
	Receive(qids []one.QID, iov [][]byte, timeoutMs uint32) (int, error)

	// DispatchReceive performs Dispatch followed by Receive as a single
	// device operation.
	DispatchReceive(hdr one.Header, send [][]byte, qids []one.QID, recv [][]byte, timeoutMs uint32) (int, error)

	// WakeUp makes receivers blocked on any of qids return zero bytes.
	WakeUp(qids []one.QID) error

	// SetName attaches a diagnostic label to an entry.
	SetName(kind EntryKind, id uint32, name string) error

	// Close releases the handle.
	Close() error
}

// Opener opens the device.
type Opener interface {
	Open() (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Device, error)

// Open calls f.
func (f OpenerFunc) Open() (Device, error) {
	return f()
}

// PayloadSize returns the total length of a scatter vector.
func PayloadSize(iov [][]byte) int {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	return n
}

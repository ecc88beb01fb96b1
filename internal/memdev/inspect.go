package memdev

import (
	"slices"
	"time"

	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
)

// InjectInterrupts makes the next n calls of op fail with EINTR before
// taking any effect.
func (d *Device) InjectInterrupts(op Op, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupts[op] = n
}

// FailOn makes every call of op fail with errno until ClearFailures.
func (d *Device) FailOn(op Op, errno unix.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = errno
}

// ClearFailures removes every fault configured with FailOn.
func (d *Device) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.failures)
}

// Calls returns how many times op was called, including failed calls.
func (d *Device) Calls(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Opens returns how many times the device was opened through Opener.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many times the device was closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Blocked returns the number of receivers currently blocked.
func (d *Device) Blocked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// WaitBlocked polls until at least n receivers are blocked or timeout
// elapses. It reports whether the condition was met.
func (d *Device) WaitBlocked(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if d.Blocked() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// ReceiveSets returns the QID sets passed to every receive that reached
// the device, oldest first.
func (d *Device) ReceiveSets() [][]one.QID {
	d.mu.Lock()
	defer d.mu.Unlock()
	sets := make([][]one.QID, len(d.receiveSets))
	for i, s := range d.receiveSets {
		sets[i] = slices.Clone(s)
	}
	return sets
}

// BlockedSets returns the QID sets of the receivers currently blocked.
func (d *Device) BlockedSets() [][]one.QID {
	d.mu.Lock()
	defer d.mu.Unlock()
	sets := make([][]one.QID, len(d.waiters))
	for i, w := range d.waiters {
		sets[i] = slices.Clone(w.qids)
	}
	return sets
}

// Exists reports whether qid names a live queue.
func (d *Device) Exists(qid one.QID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.queues[qid]
	return ok
}

// Name returns the label set on qid.
func (d *Device) Name(qid one.QID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[qid]; ok {
		return q.name
	}
	return ""
}

// Targets returns the queues qid forwards to.
func (d *Device) Targets(qid one.QID) []one.QID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[qid]; ok {
		return slices.Clone(q.targets)
	}
	return nil
}

// Pending returns the number of packets queued on qid.
func (d *Device) Pending(qid one.QID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[qid]; ok {
		return len(q.packets)
	}
	return 0
}

// InjectRaw queues raw bytes on qid as if they were one packet, or
// hands them to a blocked receiver. The bytes are not validated, which
// lets tests deliver truncated or malformed batches.
func (d *Device) InjectRaw(qid one.QID, raw []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[qid]
	if !ok {
		return false
	}
	d.deliverLocked(q, slices.Clone(raw))
	return true
}

// Package memdev is an in-process implementation of device.Device with
// the queue semantics of the One driver. Tests use it in place of the
// character device; it records calls and can inject failures.
//
// Semantics worth knowing when writing tests against it:
//
//   - Receive packs as many whole packets as fit in the scatter vector,
//     visiting queues in the order given. If the first packet does not
//     fit the call fails with EMSGSIZE and the packet stays queued.
//   - A packet dispatched while a receiver is blocked on its queue is
//     handed to the longest waiting receiver directly.
//   - DispatchReceive queues its receiver ahead of every other waiter
//     before the dispatched packet becomes visible.
//   - WakeUp on a queue with no blocked receiver is latched and consumed
//     by the next Receive that includes the queue.
//   - Destroy wakes receivers blocked on the queue with EIDRM.
package memdev

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/device"
)

// Op names a control call for call counting and fault injection.
type Op string

const (
	OpCreate          Op = "create"
	OpDestroy         Op = "destroy"
	OpAttach          Op = "attach"
	OpDetach          Op = "detach"
	OpDispatch        Op = "dispatch"
	OpReceive         Op = "receive"
	OpDispatchReceive Op = "dispatch-receive"
	OpWakeUp          Op = "wakeup"
	OpSetName         Op = "set-name"
)

type memQueue struct {
	qid     one.QID
	flags   device.QueueFlags
	name    string
	packets [][]byte
	targets []one.QID
	woken   bool
}

type result struct {
	n   int
	err error
}

type waiter struct {
	qids []one.QID
	iov  [][]byte
	done chan result
}

// Device is an in-process queue device. The zero value is not usable;
// call New.
type Device struct {
	mu      sync.Mutex
	open    bool
	opens   int
	closes  int
	nextQID uint32
	queues  map[one.QID]*memQueue
	waiters []*waiter

	calls       map[Op]int
	interrupts  map[Op]int
	failures    map[Op]unix.Errno
	receiveSets [][]one.QID
}

var _ device.Device = (*Device)(nil)

// New returns an open device with no queues.
func New() *Device {
	return &Device{
		open:       true,
		nextQID:    1,
		queues:     make(map[one.QID]*memQueue),
		calls:      make(map[Op]int),
		interrupts: make(map[Op]int),
		failures:   make(map[Op]unix.Errno),
	}
}

// Opener returns an opener that reopens d and hands it out. Queues
// survive a close/open cycle.
func (d *Device) Opener() device.Opener {
	return device.OpenerFunc(func() (device.Device, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.open = true
		d.opens++
		return d, nil
	})
}

// enter accounts for a call to op and applies injected faults. The
// caller holds d.mu.
func (d *Device) enter(op Op) error {
	d.calls[op]++
	if !d.open {
		return unix.EBADF
	}
	if d.interrupts[op] > 0 {
		d.interrupts[op]--
		return unix.EINTR
	}
	if errno := d.failures[op]; errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) Create(flags device.QueueFlags, requested one.QID) (one.QID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpCreate); err != nil {
		return one.QIDNone, err
	}

	qid := requested
	if qid != one.QIDNone {
		if _, exists := d.queues[qid]; exists {
			return one.QIDNone, unix.EEXIST
		}
	} else {
		for {
			qid = one.QID(d.nextQID)
			d.nextQID++
			if d.nextQID == 0 {
				d.nextQID = 1
			}
			if _, exists := d.queues[qid]; qid != one.QIDNone && !exists {
				break
			}
		}
	}

	d.queues[qid] = &memQueue{qid: qid, flags: flags}
	return qid, nil
}

func (d *Device) Destroy(qid one.QID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDestroy); err != nil {
		return err
	}
	if _, ok := d.queues[qid]; !ok {
		return unix.ENOENT
	}

	delete(d.queues, qid)
	for _, q := range d.queues {
		q.targets = slices.DeleteFunc(q.targets, func(t one.QID) bool { return t == qid })
	}
	for _, w := range slices.Clone(d.waiters) {
		if slices.Contains(w.qids, qid) {
			d.completeLocked(w, 0, unix.EIDRM)
		}
	}
	return nil
}

func (d *Device) Attach(qid, target one.QID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpAttach); err != nil {
		return err
	}
	q, ok := d.queues[qid]
	if !ok {
		return unix.ENOENT
	}
	if _, ok := d.queues[target]; !ok {
		return unix.ENOENT
	}
	if qid == target {
		return unix.EINVAL
	}
	if slices.Contains(q.targets, target) {
		return unix.EEXIST
	}
	q.targets = append(q.targets, target)
	return nil
}

func (d *Device) Detach(qid, target one.QID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDetach); err != nil {
		return err
	}
	q, ok := d.queues[qid]
	if !ok {
		return unix.ENOENT
	}
	i := slices.Index(q.targets, target)
	if i < 0 {
		return unix.ENOENT
	}
	q.targets = slices.Delete(q.targets, i, i+1)
	return nil
}

func (d *Device) Dispatch(hdr one.Header, iov [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpDispatch); err != nil {
		return err
	}
	return d.dispatchLocked(hdr, iov)
}

func (d *Device) dispatchLocked(hdr one.Header, iov [][]byte) error {
	q, ok := d.queues[hdr.QID]
	if !ok {
		return unix.ENOENT
	}
	if int(hdr.Size) != device.PayloadSize(iov) {
		return unix.EINVAL
	}

	pkt := make([]byte, one.HeaderSize, hdr.PacketSize())
	hdr.Put(pkt)
	for _, b := range iov {
		pkt = append(pkt, b...)
	}

	d.deliverLocked(q, pkt)
	for _, t := range q.targets {
		d.deliverLocked(d.queues[t], pkt)
	}
	return nil
}

// deliverLocked hands pkt to the longest waiting receiver blocked on q,
// or queues it.
func (d *Device) deliverLocked(q *memQueue, pkt []byte) {
	for _, w := range d.waiters {
		if !slices.Contains(w.qids, q.qid) {
			continue
		}
		if len(pkt) > device.PayloadSize(w.iov) {
			d.completeLocked(w, 0, unix.EMSGSIZE)
			break
		}
		scatter(w.iov, 0, pkt)
		d.completeLocked(w, len(pkt), nil)
		return
	}
	q.packets = append(q.packets, pkt)
}

func (d *Device) Receive(qids []one.QID, iov [][]byte, timeoutMs uint32) (int, error) {
	d.mu.Lock()
	if err := d.enter(OpReceive); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	w, n, err := d.receiveLocked(qids, iov, false)
	d.mu.Unlock()
	if w == nil {
		return n, err
	}
	return d.wait(w, timeoutMs)
}

func (d *Device) DispatchReceive(hdr one.Header, send [][]byte, qids []one.QID, recv [][]byte, timeoutMs uint32) (int, error) {
	d.mu.Lock()
	if err := d.enter(OpDispatchReceive); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if err := d.checkQIDsLocked(qids); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	if err := d.dispatchLocked(hdr, send); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	w, n, err := d.receiveLocked(qids, recv, true)
	d.mu.Unlock()
	if w == nil {
		return n, err
	}
	return d.wait(w, timeoutMs)
}

// receiveLocked completes a receive immediately if it can. Otherwise it
// registers and returns a waiter.
func (d *Device) receiveLocked(qids []one.QID, iov [][]byte, first bool) (*waiter, int, error) {
	if err := d.checkQIDsLocked(qids); err != nil {
		return nil, 0, err
	}
	d.receiveSets = append(d.receiveSets, slices.Clone(qids))

	woken := false
	for _, qid := range qids {
		if q := d.queues[qid]; q.woken {
			q.woken = false
			woken = true
		}
	}
	if woken {
		return nil, 0, nil
	}

	n, err := d.drainLocked(qids, iov)
	if err != nil || n > 0 {
		return nil, n, err
	}

	w := &waiter{qids: qids, iov: iov, done: make(chan result, 1)}
	if first {
		d.waiters = slices.Insert(d.waiters, 0, w)
	} else {
		d.waiters = append(d.waiters, w)
	}
	return w, 0, nil
}

func (d *Device) checkQIDsLocked(qids []one.QID) error {
	if len(qids) == 0 {
		return unix.EINVAL
	}
	for _, qid := range qids {
		if _, ok := d.queues[qid]; !ok {
			return unix.ENOENT
		}
	}
	return nil
}

// drainLocked copies queued packets into iov until the next one does
// not fit.
func (d *Device) drainLocked(qids []one.QID, iov [][]byte) (int, error) {
	capacity := device.PayloadSize(iov)
	written := 0
	for i, qid := range qids {
		if slices.Contains(qids[:i], qid) {
			continue
		}
		q := d.queues[qid]
		for len(q.packets) > 0 {
			pkt := q.packets[0]
			if written+len(pkt) > capacity {
				if written == 0 {
					return 0, unix.EMSGSIZE
				}
				return written, nil
			}
			scatter(iov, written, pkt)
			written += len(pkt)
			q.packets = q.packets[1:]
		}
	}
	return written, nil
}

func (d *Device) wait(w *waiter, timeoutMs uint32) (int, error) {
	var timeout <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-w.done:
		return r.n, r.err
	case <-timeout:
		d.mu.Lock()
		pending := d.removeWaiterLocked(w)
		d.mu.Unlock()
		if pending {
			return 0, unix.ETIMEDOUT
		}
		// Completed between the timer firing and taking the lock.
		r := <-w.done
		return r.n, r.err
	}
}

func (d *Device) removeWaiterLocked(w *waiter) bool {
	i := slices.Index(d.waiters, w)
	if i < 0 {
		return false
	}
	d.waiters = slices.Delete(d.waiters, i, i+1)
	return true
}

func (d *Device) completeLocked(w *waiter, n int, err error) {
	if d.removeWaiterLocked(w) {
		w.done <- result{n: n, err: err}
	}
}

func (d *Device) WakeUp(qids []one.QID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpWakeUp); err != nil {
		return err
	}
	for _, qid := range qids {
		if _, ok := d.queues[qid]; !ok {
			return unix.ENOENT
		}
	}

	delivered := make(map[one.QID]bool)
	for _, w := range slices.Clone(d.waiters) {
		hit := false
		for _, qid := range qids {
			if slices.Contains(w.qids, qid) {
				delivered[qid] = true
				hit = true
			}
		}
		if hit {
			d.completeLocked(w, 0, nil)
		}
	}
	for _, qid := range qids {
		if !delivered[qid] {
			d.queues[qid].woken = true
		}
	}
	return nil
}

func (d *Device) SetName(kind device.EntryKind, id uint32, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetName); err != nil {
		return err
	}
	if kind != device.EntryQueue {
		return unix.EINVAL
	}
	if len(name) >= device.MaxNameLen {
		return unix.ENAMETOOLONG
	}
	q, ok := d.queues[one.QID(id)]
	if !ok {
		return unix.ENOENT
	}
	q.name = name
	return nil
}

// Close marks the device closed. Blocked receivers fail with EBADF.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return unix.EBADF
	}
	d.open = false
	d.closes++
	for _, w := range slices.Clone(d.waiters) {
		d.completeLocked(w, 0, unix.EBADF)
	}
	return nil
}

// scatter copies data into iov starting at logical offset off.
func scatter(iov [][]byte, off int, data []byte) {
	for _, b := range iov {
		if len(data) == 0 {
			return
		}
		if off >= len(b) {
			off -= len(b)
			continue
		}
		n := copy(b[off:], data)
		data = data[n:]
		off = 0
	}
}

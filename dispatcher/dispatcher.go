// Package dispatcher multiplexes many queues onto one blocking receive
// and routes each inbound packet to the handler registered for its
// destination queue.
//
// A Dispatcher owns a private control queue and a single worker
// goroutine. The worker blocks in one receive over the control queue
// plus every registered queue. AddQueue and RemoveQueue change the
// registration table under a lock and wake the worker through the
// control queue, so it rebuilds its receive set before blocking again.
// The receive itself runs without the lock, and handlers are called
// without it, so a handler may add or remove queues.
package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/internal/snapshot"
	"github.com/frobware/go-one/queue"
	"github.com/frobware/go-one/session"
)

// ErrClosed is returned by operations on a closed Dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Handler receives packets for a registered queue. The payload aliases
// the worker's receive buffer and must not be retained after
// HandlePacket returns. Handlers run on the worker goroutine and must
// not call Close.
type Handler interface {
	HandlePacket(d *Dispatcher, hdr one.Header, payload []byte)
}

// HandlerFunc adapts a function to a Handler. Any per-queue context is
// captured by the closure.
type HandlerFunc func(d *Dispatcher, hdr one.Header, payload []byte)

func (f HandlerFunc) HandlePacket(d *Dispatcher, hdr one.Header, payload []byte) {
	f(d, hdr, payload)
}

// Serial identifies a Dispatcher in logs. Serials increase
// monotonically across the process.
type Serial = uint32

var serials atomix.Uint32

// Dispatcher is a background receive loop over a dynamic set of queues.
type Dispatcher struct {
	serial  Serial
	session *session.Session
	control one.QID
	logger  *slog.Logger
	opts    options

	mu    sync.Mutex
	table map[one.QID]Handler
	keys  []one.QID
	gen   uint64

	// Owned by the worker.
	set snapshot.Slice[one.QID]
	buf []byte

	stopping  atomic.Bool
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	stats counters
}

// New acquires s, creates the control queue and starts the worker. The
// session reference is held until Close.
func New(s *session.Session, opts ...Option) (*Dispatcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.bufferSize = min(o.bufferSize, o.maxBuffer)

	if err := s.Acquire(); err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	control, err := queue.Create(s, device.QueueFlagNone, one.QIDNone)
	if err != nil {
		_ = s.Release()
		return nil, fmt.Errorf("create control queue: %w", err)
	}

	serial := serials.Add(1)
	d := &Dispatcher{
		serial:  serial,
		session: s,
		control: control,
		logger:  o.logger.With("component", "dispatcher", "serial", serial, "control_qid", control),
		opts:    o,
		table:   make(map[one.QID]Handler),
		buf:     make([]byte, o.bufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	name := o.name
	if name == "" {
		name = fmt.Sprintf("dispatcher-%d", serial)
	}
	if err := queue.SetName(s, control, name); err != nil {
		d.logger.Debug("name control queue", "name", name, "error", err)
	}

	go d.run()
	d.logger.Debug("dispatcher started", "buffer_size", o.bufferSize)
	return d, nil
}

// Serial returns the dispatcher's process-unique serial.
func (d *Dispatcher) Serial() Serial { return d.serial }

// ControlQID returns the QID of the private control queue.
func (d *Dispatcher) ControlQID() one.QID { return d.control }

// Session returns the session the dispatcher holds a reference on.
func (d *Dispatcher) Session() *session.Session { return d.session }

// AddQueue registers h for packets arriving on qid. It fails with
// one.ErrQueueBusy if qid is already registered or is the control
// queue; the existing registration is left untouched.
func (d *Dispatcher) AddQueue(qid one.QID, h Handler) error {
	if h == nil {
		return fmt.Errorf("add queue %d: nil handler", qid)
	}
	if d.stopping.Load() {
		return ErrClosed
	}

	d.mu.Lock()
	if _, exists := d.table[qid]; exists || qid == d.control {
		d.mu.Unlock()
		return one.ErrQueueBusy{QID: qid}
	}
	d.table[qid] = h
	d.keys = append(d.keys, qid)
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.logger.Debug("queue added", "qid", qid, "generation", gen)
	d.kick()
	return nil
}

// RemoveQueue unregisters qid. It fails with one.ErrQueueNotFound if
// qid is not registered. A packet for qid already in the worker's
// buffer may still be dropped after RemoveQueue returns, but its
// handler is not called.
func (d *Dispatcher) RemoveQueue(qid one.QID) error {
	if d.stopping.Load() {
		return ErrClosed
	}

	d.mu.Lock()
	if _, exists := d.table[qid]; !exists {
		d.mu.Unlock()
		return one.ErrQueueNotFound{QID: qid}
	}
	delete(d.table, qid)
	for i, k := range d.keys {
		if k == qid {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.logger.Debug("queue removed", "qid", qid, "generation", gen)
	d.kick()
	return nil
}

// Queues returns the registered QIDs in registration order.
func (d *Dispatcher) Queues() []one.QID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]one.QID(nil), d.keys...)
}

// Generation returns the registration table's generation counter. It
// increases by one on every successful AddQueue or RemoveQueue.
func (d *Dispatcher) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// kick wakes the worker so it rebuilds its receive set. Failures are
// logged; the caller's registration has already taken effect.
func (d *Dispatcher) kick() {
	if err := queue.WakeUp(d.session, []one.QID{d.control}); err != nil {
		d.logger.Warn("wake worker", "error", err)
	}
}

// Close stops the worker, destroys the control queue and releases the
// session. It is safe to call more than once; later calls return the
// result of the first.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.stop()
	})
	return d.closeErr
}

func (d *Dispatcher) stop() error {
	d.stopping.Store(true)
	close(d.quit)
	d.kick()

	var errs []error
	destroyed := false

	grace := time.NewTimer(d.opts.stopGrace)
	defer grace.Stop()
	select {
	case <-d.done:
	case <-grace.C:
		// The wakeup was missed; a packet on the control queue always
		// ends the receive.
		d.logger.Debug("worker missed wakeup, posting to control queue")
		if err := queue.Dispatch(d.session, d.control, nil); err != nil {
			// Destroying the control queue fails the blocked receive
			// with EIDRM.
			d.logger.Warn("post to control queue, destroying it", "error", err)
			destroyed = true
			if err := queue.Destroy(d.session, d.control); err != nil {
				errs = append(errs, fmt.Errorf("destroy control queue: %w", err))
			}
		}
		<-d.done
	}

	if !destroyed {
		if err := queue.Destroy(d.session, d.control); err != nil {
			errs = append(errs, fmt.Errorf("destroy control queue: %w", err))
		}
	}
	if err := d.session.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release session: %w", err))
	}
	d.logger.Debug("dispatcher stopped")
	return errors.Join(errs...)
}

// receiveSet returns the QIDs to receive from, rebuilding the cached
// set if the table has changed since it was last built. The control
// queue is always first.
func (d *Dispatcher) receiveSet() []one.QID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.set.Stale(d.gen) {
		d.set.Rebuild(d.gen, len(d.keys)+1, func(dst []one.QID) {
			dst[0] = d.control
			copy(dst[1:], d.keys)
		})
		d.stats.rebuilds.Add(1)
	}
	return d.set.Items()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	delay := d.opts.retryMin
	for !d.stopping.Load() {
		qids := d.receiveSet()
		n, err := queue.Receive(d.session, qids, d.buf, 0, false)
		if err != nil {
			if d.stopping.Load() {
				return
			}
			if errors.Is(err, unix.EMSGSIZE) {
				if len(d.buf) < d.opts.maxBuffer {
					d.buf = make([]byte, min(2*len(d.buf), d.opts.maxBuffer))
					d.logger.Info("receive buffer grown", "size", len(d.buf))
					continue
				}
				d.isolateOversized()
			}
			d.stats.receiveErrors.Add(1)
			d.logger.Error("receive failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-d.quit:
				return
			}
			delay = min(2*delay, d.opts.retryMax)
			continue
		}
		delay = d.opts.retryMin

		if n == 0 {
			d.stats.wakeups.Add(1)
			continue
		}
		d.deliver(d.buf[:n])
	}
}

// isolateOversized receives from each registered queue on its own to
// find those whose next packet exceeds the largest buffer. Queues that
// answer are served on the way, so one stuck queue does not starve the
// rest of the set.
func (d *Dispatcher) isolateOversized() {
	d.mu.Lock()
	qids := slices.Clone(d.keys)
	d.mu.Unlock()

	for _, qid := range qids {
		n, err := queue.Receive(d.session, []one.QID{qid}, d.buf, 1, false)
		switch {
		case err == nil && n > 0:
			d.deliver(d.buf[:n])
		case errors.Is(err, unix.EMSGSIZE):
			d.stats.oversized.Add(1)
			d.stats.oversizedQID.Store(uint32(qid))
			d.logger.Error("packet exceeds maximum receive buffer; remove the queue to unblock the worker",
				"qid", qid, "max_buffer_size", d.opts.maxBuffer)
		}
	}
}

// deliver walks one received batch and calls the handler for each
// packet. A truncated tail ends the batch.
func (d *Dispatcher) deliver(batch []byte) {
	d.stats.batches.Add(1)
	_, err := one.Walk(batch, func(hdr one.Header, payload []byte) {
		d.stats.packets.Add(1)
		if hdr.QID == d.control {
			return
		}
		d.mu.Lock()
		h := d.table[hdr.QID]
		d.mu.Unlock()
		if h == nil {
			h = d.opts.unrouted
		}
		if h == nil {
			d.stats.dropped.Add(1)
			return
		}
		h.HandlePacket(d, hdr, payload)
	})
	if err != nil {
		d.stats.corrupt.Add(1)
		d.logger.Warn("corrupt batch", "bytes", len(batch), "error", err)
	}
}

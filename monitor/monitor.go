// Package monitor runs a long-lived capture process over a set of
// queues.
//
// A Monitor owns a dispatcher. Each subscribed queue gets a tap handler
// that copies inbound packets into a bounded lock-free queue without
// blocking the dispatcher worker; a drain goroutine writes them to the
// registry as captures. When the tap is full, packets are counted as
// dropped rather than stalling delivery.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"
	"github.com/google/uuid"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/dispatcher"
	"github.com/frobware/go-one/queue"
	"github.com/frobware/go-one/registry"
	"github.com/frobware/go-one/session"
)

// ErrNotRunning is returned by operations on a monitor that has not
// been started or has shut down.
var ErrNotRunning = errors.New("monitor not running")

// QueueSpec describes a queue to subscribe to. A zero QID creates a new
// queue that the monitor destroys on Unsubscribe or shutdown; a
// non-zero QID adopts an existing queue. Packets dispatched on each
// queue in Attach are forwarded to this one.
type QueueSpec struct {
	Name   string
	QID    one.QID
	Attach []one.QID
}

// Options configures a Monitor.
type Options struct {
	// TapCapacity bounds the number of packets waiting to be written.
	TapCapacity int
	// CapturePayloads stores payload bytes with each capture.
	CapturePayloads bool
	// Queues are subscribed by Start, in order.
	Queues []QueueSpec
	// Dispatcher options are passed to dispatcher.New.
	Dispatcher []dispatcher.Option
}

type subscription struct {
	spec    QueueSpec
	managed bool
}

type tapEntry struct {
	hdr     one.Header
	payload []byte
	at      time.Time
}

// Monitor captures traffic on subscribed queues.
type Monitor struct {
	session *session.Session
	store   registry.Store
	opts    Options
	logger  *slog.Logger
	runID   string

	mu      sync.Mutex
	running bool
	disp    *dispatcher.Dispatcher
	subs    map[one.QID]*subscription
	order   []one.QID

	tap       *lfq.SPSC[tapEntry]
	stopDrain atomic.Bool
	drainDone chan struct{}

	captured    atomic.Uint64
	dropped     atomic.Uint64
	storeErrors atomic.Uint64
	startedAt   time.Time
}

// New returns a monitor over s that records into store. Nothing
// touches the device until Start.
func New(s *session.Session, store registry.Store, opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TapCapacity < 2 {
		opts.TapCapacity = 1024
	}
	runID := uuid.NewString()
	return &Monitor{
		session: s,
		store:   store,
		opts:    opts,
		runID:   runID,
		logger:  logger.With("component", "monitor", "run_id", runID),
		subs:    make(map[one.QID]*subscription),
	}
}

// RunID returns the id stamped on this run's captures.
func (m *Monitor) RunID() string { return m.runID }

// Start acquires the session, starts the dispatcher and drain goroutine
// and subscribes the configured queues. If any configured queue fails,
// everything started so far is torn down.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already running")
	}

	if err := m.session.Acquire(); err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	m.tap = new(lfq.SPSC[tapEntry])
	m.tap.Init(m.opts.TapCapacity)
	disp, err := dispatcher.New(m.session, append([]dispatcher.Option{
		dispatcher.WithLogger(m.logger),
		dispatcher.WithName("monitor-" + m.runID[:8]),
		dispatcher.WithUnroutedHandler(dispatcher.HandlerFunc(m.tapPacket)),
	}, m.opts.Dispatcher...)...)
	if err != nil {
		_ = m.session.Release()
		return fmt.Errorf("start dispatcher: %w", err)
	}

	m.disp = disp
	m.stopDrain.Store(false)
	m.drainDone = make(chan struct{})
	m.startedAt = time.Now()
	m.running = true
	go m.drain()

	for _, spec := range m.opts.Queues {
		if _, err := m.subscribeLocked(ctx, spec); err != nil {
			m.shutdownLocked(ctx)
			return fmt.Errorf("subscribe %q: %w", spec.Name, err)
		}
	}

	m.logger.Info("monitor started", "queues", len(m.order), "control_qid", disp.ControlQID())
	return nil
}

// Run starts the monitor and blocks until ctx is done, then shuts it
// down.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Shutdown(context.WithoutCancel(ctx))
}

// Subscribe starts capturing spec's queue and returns its QID.
func (m *Monitor) Subscribe(ctx context.Context, spec QueueSpec) (one.QID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return one.QIDNone, ErrNotRunning
	}
	return m.subscribeLocked(ctx, spec)
}

func (m *Monitor) subscribeLocked(ctx context.Context, spec QueueSpec) (one.QID, error) {
	if spec.QID != one.QIDNone {
		if _, exists := m.subs[spec.QID]; exists {
			return one.QIDNone, one.ErrQueueBusy{QID: spec.QID}
		}
	}

	sub := &subscription{spec: spec}
	qid := spec.QID
	var undo undoStack
	if qid == one.QIDNone {
		var err error
		if qid, err = queue.Create(m.session, device.QueueFlagNone, one.QIDNone); err != nil {
			return one.QIDNone, err
		}
		sub.managed = true
		sub.spec.QID = qid
		undo.push(func() error { return queue.Destroy(m.session, qid) })
	}

	fail := func(err error) (one.QID, error) {
		_ = undo.rollback(m.logger)
		return one.QIDNone, err
	}

	if spec.Name != "" {
		if err := queue.SetName(m.session, qid, spec.Name); err != nil {
			return fail(err)
		}
	}
	for _, src := range spec.Attach {
		if err := queue.Attach(m.session, src, qid); err != nil {
			return fail(fmt.Errorf("attach %d to %d: %w", src, qid, err))
		}
		undo.push(func() error { return queue.Detach(m.session, src, qid) })
	}
	if err := m.disp.AddQueue(qid, dispatcher.HandlerFunc(m.tapPacket)); err != nil {
		return fail(err)
	}

	m.subs[qid] = sub
	m.order = append(m.order, qid)
	m.record(ctx, sub)
	m.logger.Info("subscribed", "qid", qid, "name", spec.Name, "managed", sub.managed, "attach", spec.Attach)
	return qid, nil
}

// record writes the subscription to the registry. The registry is
// advisory, so failures are logged and counted only.
func (m *Monitor) record(ctx context.Context, sub *subscription) {
	err := m.store.RunInTransaction(ctx, func(tx registry.Store) error {
		if err := tx.SaveQueue(ctx, registry.QueueRecord{
			QID:     sub.spec.QID,
			Name:    sub.spec.Name,
			Managed: sub.managed,
		}); err != nil {
			return err
		}
		for _, src := range sub.spec.Attach {
			if _, err := tx.GetQueue(ctx, src); errors.Is(err, registry.ErrNotFound) {
				if err := tx.SaveQueue(ctx, registry.QueueRecord{QID: src}); err != nil {
					return err
				}
			}
			if err := tx.SaveAttachment(ctx, registry.Attachment{QID: src, Target: sub.spec.QID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.storeErrors.Add(1)
		m.logger.Warn("record subscription", "qid", sub.spec.QID, "error", err)
	}
}

// Unsubscribe stops capturing qid. Attachments made by Subscribe are
// removed and a queue the monitor created is destroyed.
func (m *Monitor) Unsubscribe(ctx context.Context, qid one.QID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	return m.unsubscribeLocked(ctx, qid)
}

func (m *Monitor) unsubscribeLocked(ctx context.Context, qid one.QID) error {
	sub, ok := m.subs[qid]
	if !ok {
		return one.ErrQueueNotFound{QID: qid}
	}
	if err := m.disp.RemoveQueue(qid); err != nil {
		return err
	}
	delete(m.subs, qid)
	m.order = slices.DeleteFunc(m.order, func(q one.QID) bool { return q == qid })

	var errs []error
	for _, src := range sub.spec.Attach {
		if err := queue.Detach(m.session, src, qid); err != nil {
			errs = append(errs, fmt.Errorf("detach %d from %d: %w", src, qid, err))
		}
	}
	if sub.managed {
		if err := queue.Destroy(m.session, qid); err != nil {
			errs = append(errs, fmt.Errorf("destroy %d: %w", qid, err))
		}
		if err := m.store.DeleteQueue(ctx, qid); err != nil && !errors.Is(err, registry.ErrNotFound) {
			m.storeErrors.Add(1)
			m.logger.Warn("forget queue", "qid", qid, "error", err)
		}
	} else {
		for _, src := range sub.spec.Attach {
			if err := m.store.DeleteAttachment(ctx, src, qid); err != nil && !errors.Is(err, registry.ErrNotFound) {
				m.storeErrors.Add(1)
				m.logger.Warn("forget attachment", "qid", qid, "source", src, "error", err)
			}
		}
	}

	m.logger.Info("unsubscribed", "qid", qid, "managed", sub.managed)
	return errors.Join(errs...)
}

// Shutdown stops the dispatcher, writes out every captured packet,
// releases the monitor's queues and the session.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	return m.shutdownLocked(ctx)
}

func (m *Monitor) shutdownLocked(ctx context.Context) error {
	var errs []error

	// Stop the producer before the consumer so the tap can be emptied.
	for _, qid := range slices.Clone(m.order) {
		if err := m.unsubscribeLocked(ctx, qid); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.disp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}
	m.stopDrain.Store(true)
	<-m.drainDone

	if err := m.session.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release session: %w", err))
	}
	m.running = false
	m.logger.Info("monitor stopped",
		"captured", m.captured.Load(), "dropped", m.dropped.Load(), "uptime", time.Since(m.startedAt).Round(time.Millisecond))
	return errors.Join(errs...)
}

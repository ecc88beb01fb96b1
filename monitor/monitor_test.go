package monitor_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/internal/memdev"
	"github.com/frobware/go-one/monitor"
	"github.com/frobware/go-one/queue"
	"github.com/frobware/go-one/registry"
	"github.com/frobware/go-one/registry/sqlite"
	"github.com/frobware/go-one/session"
)

func testLogger() *slog.Logger {
	if os.Getenv("ONE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture holds one session reference of its own, so a monitor's
// references come and go on top of it.
type fixture struct {
	Dev     *memdev.Device
	Session *session.Session
	Store   registry.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := memdev.New()
	store, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := session.New(dev.Opener())
	require.NoError(t, s.Acquire())
	t.Cleanup(func() { _ = s.Release() })

	return &fixture{Dev: dev, Session: s, Store: store}
}

func (f *fixture) create(t *testing.T) one.QID {
	t.Helper()
	qid, err := queue.Create(f.Session, device.QueueFlagNone, one.QIDNone)
	require.NoError(t, err)
	return qid
}

func (f *fixture) start(t *testing.T, opts monitor.Options) *monitor.Monitor {
	t.Helper()
	m := monitor.New(f.Session, f.Store, opts, testLogger())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func (f *fixture) captures(t *testing.T, m *monitor.Monitor) []registry.Capture {
	t.Helper()
	got, err := f.Store.ListCaptures(context.Background(), registry.CaptureFilter{RunID: m.RunID()})
	require.NoError(t, err)
	return got
}

// TestStart_SubscribesConfiguredQueues verifies that:
//
//	Given a configuration with one queue to create and one to adopt,
//	When the monitor starts,
//	Then the created queue exists and is named, the adopted queue has
//	its attachment applied and both are recorded in the registry.
func TestStart_SubscribesConfiguredQueues(t *testing.T) {
	fix := newFixture(t)
	adopted, src := fix.create(t), fix.create(t)

	m := fix.start(t, monitor.Options{
		TapCapacity: 16,
		Queues: []monitor.QueueSpec{
			{Name: "fresh"},
			{Name: "existing", QID: adopted, Attach: []one.QID{src}},
		},
	})

	stats, err := m.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Subscriptions, 2)
	fresh := one.QID(stats.Subscriptions[0].QID)
	assert.True(t, stats.Subscriptions[0].Managed)
	assert.True(t, fix.Dev.Exists(fresh))
	assert.Equal(t, "fresh", fix.Dev.Name(fresh))
	assert.Equal(t, monitor.Subscription{
		QID: uint32(adopted), Name: "existing", Attach: []uint32{uint32(src)},
	}, stats.Subscriptions[1])
	assert.Equal(t, []one.QID{adopted}, fix.Dev.Targets(src))
	assert.Equal(t, 2, stats.Dispatcher.Queues)

	ctx := context.Background()
	rec, err := fix.Store.GetQueue(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, rec.Managed)
	assert.Equal(t, "fresh", rec.Name)
	atts, err := fix.Store.ListAttachments(ctx, src)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, adopted, atts[0].Target)
}

// TestCapture_RecordsPacketsWithPayload verifies that:
//
//	Given a running monitor subscribed to a queue and to a source
//	attached to it,
//	When packets are dispatched on both,
//	Then each is stored as a capture under the run id, with the
//	destination QID the sender used.
func TestCapture_RecordsPacketsWithPayload(t *testing.T) {
	skipRace(t)
	fix := newFixture(t)
	qid, src := fix.create(t), fix.create(t)
	m := fix.start(t, monitor.Options{
		TapCapacity:     16,
		CapturePayloads: true,
		Queues:          []monitor.QueueSpec{{QID: qid, Attach: []one.QID{src}}},
	})
	require.Eventually(t, func() bool { return fix.Dev.Blocked() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, queue.Dispatch(fix.Session, qid, []byte("direct")))
	require.NoError(t, queue.Dispatch(fix.Session, src, []byte("forwarded")))

	require.Eventually(t, func() bool { return len(fix.captures(t, m)) == 2 }, 2*time.Second, time.Millisecond)
	got := fix.captures(t, m)
	assert.Equal(t, qid, got[0].QID)
	assert.Equal(t, "direct", string(got[0].Payload))
	assert.Equal(t, uint32(len("direct")), got[0].Size)
	assert.Equal(t, src, got[1].QID)
	assert.Equal(t, "forwarded", string(got[1].Payload))
	for _, c := range got {
		assert.Equal(t, m.RunID(), c.RunID)
	}
}

// TestSubscribe_Twice_IsBusy verifies that subscribing an already
// subscribed queue fails and leaves the first subscription intact.
func TestSubscribe_Twice_IsBusy(t *testing.T) {
	fix := newFixture(t)
	qid := fix.create(t)
	m := fix.start(t, monitor.Options{TapCapacity: 4})

	got, err := m.Subscribe(context.Background(), monitor.QueueSpec{QID: qid})
	require.NoError(t, err)
	assert.Equal(t, qid, got)

	_, err = m.Subscribe(context.Background(), monitor.QueueSpec{QID: qid})
	assert.ErrorAs(t, err, new(one.ErrQueueBusy))
	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Len(t, stats.Subscriptions, 1)
}

// TestSubscribe_AttachFailure_UndoesCreate verifies that:
//
//	Given a request to create a queue attached to two sources, the
//	second of which does not exist,
//	When I subscribe,
//	Then the call fails, the first attachment is removed and the
//	created queue is destroyed.
func TestSubscribe_AttachFailure_UndoesCreate(t *testing.T) {
	fix := newFixture(t)
	src := fix.create(t)
	m := fix.start(t, monitor.Options{TapCapacity: 4})

	_, err := m.Subscribe(context.Background(), monitor.QueueSpec{Attach: []one.QID{src, 9999}})
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.ENOENT)
	assert.Empty(t, fix.Dev.Targets(src))

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Empty(t, stats.Subscriptions)
	assert.Zero(t, stats.Dispatcher.Queues)
}

// TestUnsubscribe verifies that:
//
//	Given a created queue and an adopted queue with an attachment,
//	When both are unsubscribed,
//	Then the created queue is destroyed and forgotten, the adopted
//	queue survives without its attachment and a second unsubscribe
//	reports not found.
func TestUnsubscribe(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()
	adopted, src := fix.create(t), fix.create(t)
	m := fix.start(t, monitor.Options{TapCapacity: 4})

	created, err := m.Subscribe(ctx, monitor.QueueSpec{Name: "mine"})
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, monitor.QueueSpec{QID: adopted, Attach: []one.QID{src}})
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(ctx, created))
	assert.False(t, fix.Dev.Exists(created))
	_, err = fix.Store.GetQueue(ctx, created)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, m.Unsubscribe(ctx, adopted))
	assert.True(t, fix.Dev.Exists(adopted))
	assert.Empty(t, fix.Dev.Targets(src))
	atts, err := fix.Store.ListAttachments(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, atts)

	assert.ErrorAs(t, m.Unsubscribe(ctx, adopted), new(one.ErrQueueNotFound))
}

// TestShutdown_DrainsTapAndReleasesResources verifies that:
//
//	Given a monitor that has received a burst of packets,
//	When it shuts down,
//	Then every received packet is stored, the created queue is
//	destroyed and the monitor's session references are released.
func TestShutdown_DrainsTapAndReleasesResources(t *testing.T) {
	skipRace(t)
	fix := newFixture(t)
	m := monitor.New(fix.Session, fix.Store, monitor.Options{
		TapCapacity: 64,
		Queues:      []monitor.QueueSpec{{Name: "burst"}},
	}, testLogger())
	require.NoError(t, m.Start(context.Background()))

	stats, err := m.Stats()
	require.NoError(t, err)
	qid := one.QID(stats.Subscriptions[0].QID)

	const n = 20
	for range n {
		require.NoError(t, queue.Dispatch(fix.Session, qid, []byte("x")))
	}
	require.Eventually(t, func() bool {
		s, err := m.Stats()
		return err == nil && s.Dispatcher.Packets >= n
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, m.Shutdown(context.Background()))

	got := fix.captures(t, m)
	assert.Len(t, got, n)
	for _, c := range got {
		assert.Nil(t, c.Payload, "payloads are not captured by default")
	}
	assert.False(t, fix.Dev.Exists(qid))
	assert.Equal(t, 1, fix.Session.Refs())

	_, err = m.Stats()
	assert.ErrorIs(t, err, monitor.ErrNotRunning)
	assert.ErrorIs(t, m.Shutdown(context.Background()), monitor.ErrNotRunning)
}

// blockingStore stalls SaveCapture until release is closed.
type blockingStore struct {
	registry.Store
	release chan struct{}
}

func (s *blockingStore) SaveCapture(ctx context.Context, c registry.Capture) (int64, error) {
	<-s.release
	return s.Store.SaveCapture(ctx, c)
}

// TestTap_Full_CountsDrops verifies that:
//
//	Given a small tap whose writer is stalled,
//	When more packets arrive than the tap holds,
//	Then the excess is counted as dropped without stalling the
//	dispatcher, and every packet is either stored or dropped.
func TestTap_Full_CountsDrops(t *testing.T) {
	skipRace(t)
	fix := newFixture(t)
	store := &blockingStore{Store: fix.Store, release: make(chan struct{})}
	m := monitor.New(fix.Session, store, monitor.Options{TapCapacity: 2}, testLogger())
	require.NoError(t, m.Start(context.Background()))

	qid, err := m.Subscribe(context.Background(), monitor.QueueSpec{})
	require.NoError(t, err)

	const n = 10
	for range n {
		require.NoError(t, queue.Dispatch(fix.Session, qid, []byte("y")))
	}
	// At most one entry is stalled in the writer and two wait in the tap.
	require.Eventually(t, func() bool {
		s, err := m.Stats()
		return err == nil && s.Dropped >= n-3
	}, 2*time.Second, time.Millisecond)

	close(store.release)
	require.Eventually(t, func() bool {
		s, err := m.Stats()
		return err == nil && len(fix.captures(t, m))+int(s.Dropped) == n
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, m.Shutdown(context.Background()))
}

// TestStart_BadQueue_TearsDown verifies that a configured queue that
// cannot be subscribed fails Start and leaves nothing behind.
func TestStart_BadQueue_TearsDown(t *testing.T) {
	fix := newFixture(t)
	m := monitor.New(fix.Session, fix.Store, monitor.Options{
		TapCapacity: 4,
		Queues: []monitor.QueueSpec{
			{Name: "ok"},
			{Name: "bad", Attach: []one.QID{4242}},
		},
	}, testLogger())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, `subscribe "bad"`)
	assert.Equal(t, 1, fix.Session.Refs())

	queues, err := fix.Store.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues)
}

// TestRun_StopsOnCancel verifies that Run returns once its context is
// cancelled and that the monitor can then no longer be queried.
func TestRun_StopsOnCancel(t *testing.T) {
	fix := newFixture(t)
	m := monitor.New(fix.Session, fix.Store, monitor.Options{TapCapacity: 4}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return fix.Session.Refs() == 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, fix.Session.Refs())
}

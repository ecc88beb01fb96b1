package admin_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/admin"
	"github.com/frobware/go-one/internal/memdev"
	"github.com/frobware/go-one/monitor"
	"github.com/frobware/go-one/registry/sqlite"
	"github.com/frobware/go-one/session"
)

func testLogger() *slog.Logger {
	if os.Getenv("ONE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend records requests and returns canned results.
type fakeBackend struct {
	mu       sync.Mutex
	stats    monitor.Stats
	statsErr error
	specs    []monitor.QueueSpec
	subQID   one.QID
	subErr   error
	unsubbed []one.QID
	unsubErr error
}

func (b *fakeBackend) Stats() (monitor.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats, b.statsErr
}

func (b *fakeBackend) Subscribe(_ context.Context, spec monitor.QueueSpec) (one.QID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs = append(b.specs, spec)
	return b.subQID, b.subErr
}

func (b *fakeBackend) Unsubscribe(_ context.Context, qid one.QID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubbed = append(b.unsubbed, qid)
	return b.unsubErr
}

// serve runs a server for backend on a fresh socket and returns the
// socket path. The server stops when the test ends.
func serve(t *testing.T, backend admin.Backend) string {
	t.Helper()
	// Socket paths are limited to ~100 bytes, which t.TempDir can
	// exceed.
	dir, err := os.MkdirTemp("", "one-admin")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "admin.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- admin.NewServer(backend, testLogger()).Serve(ctx, socket) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 2*time.Second, time.Millisecond)
	return socket
}

func dial(t *testing.T, socket string) *admin.Client {
	t.Helper()
	c, err := admin.Dial(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestServe_SocketPermissions verifies the listening socket is group
// accessible and nothing more.
func TestServe_SocketPermissions(t *testing.T) {
	socket := serve(t, &fakeBackend{})
	fi, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0660), fi.Mode().Perm())
	assert.Equal(t, os.ModeSocket, fi.Mode().Type())
}

// TestStats_RoundTrip verifies that stats survive the trip through a
// protobuf Struct.
func TestStats_RoundTrip(t *testing.T) {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{stats: monitor.Stats{
		RunID:       "a8f1",
		StartedAt:   started,
		TapCapacity: 1024,
		Captured:    42,
		Dropped:     3,
		Subscriptions: []monitor.Subscription{
			{QID: 7, Name: "events", Managed: true},
			{QID: 9, Attach: []uint32{2, 3}},
		},
	}}
	backend.stats.Dispatcher.Packets = 45
	backend.stats.Dispatcher.ControlQID = 1

	got, err := dial(t, serve(t, backend)).Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, started.Equal(got.StartedAt))
	got.StartedAt = started
	assert.Equal(t, backend.stats, got)
}

// TestSubscribe_PassesSpec verifies that:
//
//	Given a backend that assigns QID 12,
//	When a client subscribes a named queue with attachments,
//	Then the backend sees the same spec and the client gets 12.
func TestSubscribe_PassesSpec(t *testing.T) {
	backend := &fakeBackend{subQID: 12}
	c := dial(t, serve(t, backend))

	spec := monitor.QueueSpec{Name: "logs", Attach: []one.QID{4, 5}}
	qid, err := c.Subscribe(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, one.QID(12), qid)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []monitor.QueueSpec{spec}, backend.specs)
}

// TestErrors_MapToTypedErrors verifies the status codes chosen for
// backend errors and how the client turns them back into errors.
func TestErrors_MapToTypedErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("busy", func(t *testing.T) {
		c := dial(t, serve(t, &fakeBackend{subErr: one.ErrQueueBusy{QID: 5}}))
		_, err := c.Subscribe(ctx, monitor.QueueSpec{QID: 5})
		assert.Equal(t, one.ErrQueueBusy{QID: 5}, err)
	})

	t.Run("not subscribed", func(t *testing.T) {
		c := dial(t, serve(t, &fakeBackend{unsubErr: one.ErrQueueNotFound{QID: 8}}))
		err := c.Unsubscribe(ctx, 8)
		assert.Equal(t, one.ErrQueueNotFound{QID: 8}, err)
	})

	t.Run("missing attach source", func(t *testing.T) {
		backend := &fakeBackend{subErr: &one.TransportError{Op: "attach", QID: 99, Errno: unix.ENOENT}}
		c := dial(t, serve(t, backend))
		_, err := c.Subscribe(ctx, monitor.QueueSpec{Attach: []one.QID{99}})
		assert.ErrorIs(t, err, admin.ErrNotFound)
		assert.ErrorContains(t, err, "attach queue 99")
	})

	t.Run("not running", func(t *testing.T) {
		c := dial(t, serve(t, &fakeBackend{statsErr: monitor.ErrNotRunning}))
		_, err := c.Stats(ctx)
		assert.ErrorIs(t, err, admin.ErrUnavailable)
	})

	t.Run("internal", func(t *testing.T) {
		backend := &fakeBackend{unsubErr: &one.TransportError{Op: "destroy", QID: 3, Errno: unix.EIO}}
		c := dial(t, serve(t, backend))
		err := c.Unsubscribe(ctx, 3)
		assert.Equal(t, codes.Internal, status.Code(err))
	})
}

// TestSubscribe_MalformedRequest_IsInvalidArgument verifies that
// requests built by other clients are validated before they reach the
// backend.
func TestSubscribe_MalformedRequest_IsInvalidArgument(t *testing.T) {
	backend := &fakeBackend{}
	socket := serve(t, backend)
	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	for name, fields := range map[string]map[string]any{
		"negative qid":  {"qid": -1},
		"fractional":    {"qid": 1.5},
		"string qid":    {"qid": "7"},
		"zero attach":   {"attach": []any{0}},
		"unknown field": {"qdi": 7},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := structpb.NewStruct(fields)
			require.NoError(t, err)
			err = conn.Invoke(context.Background(), "/one.admin.v1.Admin/Subscribe", req, new(structpb.Struct))
			assert.Equal(t, codes.InvalidArgument, status.Code(err), "got %v", err)
		})
	}

	err = conn.Invoke(context.Background(), "/one.admin.v1.Admin/Unsubscribe", &structpb.Struct{}, new(emptypb.Empty))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.specs)
	assert.Empty(t, backend.unsubbed)
}

// TestClient_NoServer_IsUnavailable verifies that a client pointed at
// a missing socket reports the monitor as unavailable.
func TestClient_NoServer_IsUnavailable(t *testing.T) {
	c := dial(t, "/nonexistent/one-admin.sock")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Stats(ctx)
	assert.ErrorIs(t, err, admin.ErrUnavailable)
}

// TestMonitor_EndToEnd verifies that:
//
//	Given a running monitor served over the admin socket,
//	When a client subscribes a new queue and then unsubscribes it,
//	Then the queue is created on the device, shows in stats, and is
//	destroyed again.
func TestMonitor_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dev := memdev.New()
	store, err := sqlite.NewInMemory(ctx, testLogger())
	require.NoError(t, err)
	defer store.Close()

	m := monitor.New(session.New(dev.Opener()), store, monitor.Options{TapCapacity: 8}, testLogger())
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown(ctx)

	c := dial(t, serve(t, m))
	qid, err := c.Subscribe(ctx, monitor.QueueSpec{Name: "remote"})
	require.NoError(t, err)
	assert.True(t, dev.Exists(qid))
	assert.Equal(t, "remote", dev.Name(qid))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.RunID(), stats.RunID)
	require.Len(t, stats.Subscriptions, 1)
	assert.Equal(t, uint32(qid), stats.Subscriptions[0].QID)

	require.NoError(t, c.Unsubscribe(ctx, qid))
	assert.False(t, dev.Exists(qid))
	assert.Equal(t, one.ErrQueueNotFound{QID: qid}, c.Unsubscribe(ctx, qid))
}

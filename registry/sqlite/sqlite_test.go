package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/registry"
	"github.com/frobware/go-one/registry/sqlite"
)

func testLogger() *slog.Logger {
	if os.Getenv("ONE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) registry.Store {
	t.Helper()
	store, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var at = time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

// TestQueue_SaveGetListDelete verifies that:
//
//	Given an empty registry,
//	When I save two queues, update one, then delete the other,
//	Then Get and List reflect each step and a second delete is NotFound.
func TestQueue_SaveGetListDelete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	render := registry.QueueRecord{QID: 7, Name: "render", Managed: true, CreatedAt: at}
	audio := registry.QueueRecord{QID: 3, Name: "audio", CreatedAt: at}
	require.NoError(t, store.SaveQueue(ctx, render))
	require.NoError(t, store.SaveQueue(ctx, audio))

	got, err := store.GetQueue(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "render", got.Name)
	assert.True(t, got.Managed)
	assert.True(t, at.Equal(got.CreatedAt))

	render.Name = "render-v2"
	require.NoError(t, store.SaveQueue(ctx, render))

	list, err := store.ListQueues(ctx)
	require.NoError(t, err)
	want := []registry.QueueRecord{audio, render}
	if diff := cmp.Diff(want, list, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("ListQueues mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, store.DeleteQueue(ctx, 3))
	_, err = store.GetQueue(ctx, 3)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.ErrorIs(t, store.DeleteQueue(ctx, 3), registry.ErrNotFound)
}

func TestSaveQueue_ZeroTimeIsStamped(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	before := time.Now().Add(-time.Second)

	require.NoError(t, store.SaveQueue(ctx, registry.QueueRecord{QID: 1}))
	got, err := store.GetQueue(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.After(before))
}

// TestAttachments_CascadeOnQueueDelete verifies that:
//
//	Given a queue with two attachments,
//	When the queue record is deleted,
//	Then its attachments are gone too.
func TestAttachments_CascadeOnQueueDelete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SaveQueue(ctx, registry.QueueRecord{QID: 1, CreatedAt: at}))
	require.NoError(t, store.SaveQueue(ctx, registry.QueueRecord{QID: 2, CreatedAt: at}))
	require.NoError(t, store.SaveAttachment(ctx, registry.Attachment{QID: 1, Target: 5, CreatedAt: at}))
	require.NoError(t, store.SaveAttachment(ctx, registry.Attachment{QID: 1, Target: 4, CreatedAt: at}))
	require.NoError(t, store.SaveAttachment(ctx, registry.Attachment{QID: 2, Target: 1, CreatedAt: at}))
	// Duplicate saves are ignored.
	require.NoError(t, store.SaveAttachment(ctx, registry.Attachment{QID: 1, Target: 4, CreatedAt: at}))

	got, err := store.ListAttachments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []one.QID{4, 5}, []one.QID{got[0].Target, got[1].Target})

	all, err := store.ListAttachments(ctx, one.QIDNone)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.DeleteQueue(ctx, 1))
	got, err = store.ListAttachments(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAttachment_UnknownSourceRejected(t *testing.T) {
	store := newStore(t)
	err := store.SaveAttachment(context.Background(), registry.Attachment{QID: 99, Target: 1})
	assert.Error(t, err, "foreign key must reject an attachment from an unrecorded queue")
}

func TestDeleteAttachment(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SaveQueue(ctx, registry.QueueRecord{QID: 1}))
	require.NoError(t, store.SaveAttachment(ctx, registry.Attachment{QID: 1, Target: 2}))

	require.NoError(t, store.DeleteAttachment(ctx, 1, 2))
	assert.ErrorIs(t, store.DeleteAttachment(ctx, 1, 2), registry.ErrNotFound)
}

// TestCaptures_FilterByRunAndQueue verifies that:
//
//	Given captures from two runs across two queues,
//	When I list with run, queue and limit filters,
//	Then only matching captures come back, oldest first.
func TestCaptures_FilterByRunAndQueue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	caps := []registry.Capture{
		{RunID: "run-a", QID: 1, Size: 3, Payload: []byte("one"), CapturedAt: at},
		{RunID: "run-a", QID: 2, Size: 3, Payload: []byte("two"), CapturedAt: at.Add(time.Second)},
		{RunID: "run-b", QID: 1, Size: 5, CapturedAt: at.Add(2 * time.Second)},
		{RunID: "run-a", QID: 1, Size: 4, Payload: []byte("four"), CapturedAt: at.Add(3 * time.Second)},
	}
	var ids []int64
	for _, c := range caps {
		id, err := store.SaveCapture(ctx, c)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])

	all, err := store.ListCaptures(ctx, registry.CaptureFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	runA, err := store.ListCaptures(ctx, registry.CaptureFilter{RunID: "run-a", QID: 1})
	require.NoError(t, err)
	require.Len(t, runA, 2)
	assert.Equal(t, "one", string(runA[0].Payload))
	assert.Equal(t, "four", string(runA[1].Payload))
	assert.True(t, at.Equal(runA[0].CapturedAt))

	limited, err := store.ListCaptures(ctx, registry.CaptureFilter{QID: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[0], limited[0].ID)

	runB, err := store.ListCaptures(ctx, registry.CaptureFilter{RunID: "run-b"})
	require.NoError(t, err)
	require.Len(t, runB, 1)
	assert.Nil(t, runB[0].Payload)
	assert.Equal(t, uint32(5), runB[0].Size)
}

// TestRunInTransaction_RollsBackOnError verifies that:
//
//	Given a transaction that saves a queue and an attachment and then fails,
//	When it returns,
//	Then neither record is visible.
func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.RunInTransaction(ctx, func(tx registry.Store) error {
		require.NoError(t, tx.SaveQueue(ctx, registry.QueueRecord{QID: 10}))
		require.NoError(t, tx.SaveAttachment(ctx, registry.Attachment{QID: 10, Target: 11}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetQueue(ctx, 10)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRunInTransaction_CommitsAndNests(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	err := store.RunInTransaction(ctx, func(tx registry.Store) error {
		if err := tx.SaveQueue(ctx, registry.QueueRecord{QID: 10}); err != nil {
			return err
		}
		return tx.RunInTransaction(ctx, func(inner registry.Store) error {
			return inner.SaveAttachment(ctx, registry.Attachment{QID: 10, Target: 11})
		})
	})
	require.NoError(t, err)

	atts, err := store.ListAttachments(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}

// TestNew_OnDisk_Persists verifies that records survive closing and
// reopening a file-backed registry.
func TestNew_OnDisk_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "registry.db")

	store, err := sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.SaveQueue(ctx, registry.QueueRecord{QID: 42, Name: "persist"}))
	require.NoError(t, store.Close())

	store, err = sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetQueue(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Name)
}

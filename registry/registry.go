// Package registry records which queues exist, how they are attached
// and what traffic was captured on them.
//
// The registry is a diagnostic inventory for onectl and the monitor.
// The transport never reads it: queue operations go straight to the
// device, and a registry that disagrees with the device is simply out
// of date.
package registry

import (
	"context"
	"errors"
	"time"

	one "github.com/frobware/go-one"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueueRecord describes a queue known to the registry.
type QueueRecord struct {
	QID   one.QID
	Name  string
	Flags uint32
	// Managed is true when the recording process created the queue and
	// is responsible for destroying it.
	Managed   bool
	CreatedAt time.Time
}

// Attachment is a forwarding relationship from QID to Target.
type Attachment struct {
	QID       one.QID
	Target    one.QID
	CreatedAt time.Time
}

// Capture is one packet observed by a monitor run.
type Capture struct {
	ID    int64
	RunID string
	QID   one.QID
	Flags uint32
	Size  uint32
	// Payload is nil when payload capture is disabled.
	Payload    []byte
	CapturedAt time.Time
}

// CaptureFilter selects captures. Zero fields match everything; a
// Limit of zero or less returns all matches.
type CaptureFilter struct {
	RunID string
	QID   one.QID
	Limit int
}

// Store persists registry records.
type Store interface {
	// SaveQueue inserts or replaces the record for r.QID.
	SaveQueue(ctx context.Context, r QueueRecord) error
	// GetQueue returns ErrNotFound if qid is not recorded.
	GetQueue(ctx context.Context, qid one.QID) (QueueRecord, error)
	// DeleteQueue removes qid and its attachments. It returns
	// ErrNotFound if qid is not recorded.
	DeleteQueue(ctx context.Context, qid one.QID) error
	ListQueues(ctx context.Context) ([]QueueRecord, error)

	SaveAttachment(ctx context.Context, a Attachment) error
	// DeleteAttachment returns ErrNotFound if the pair is not recorded.
	DeleteAttachment(ctx context.Context, qid, target one.QID) error
	// ListAttachments returns the attachments whose source is qid, or
	// all attachments when qid is one.QIDNone.
	ListAttachments(ctx context.Context, qid one.QID) ([]Attachment, error)

	// SaveCapture stores c and returns its assigned ID.
	SaveCapture(ctx context.Context, c Capture) (int64, error)
	// ListCaptures returns matching captures, oldest first.
	ListCaptures(ctx context.Context, f CaptureFilter) ([]Capture, error)

	// RunInTransaction runs fn against a store bound to one
	// transaction, committing if fn returns nil.
	RunInTransaction(ctx context.Context, fn func(Store) error) error

	Close() error
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/registry"
)

func (s *sqliteStore) SaveCapture(ctx context.Context, c registry.Capture) (int64, error) {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}
	args := []any{c.RunID, uint32(c.QID), c.Flags, c.Size, c.Payload, c.CapturedAt.UTC().Format(timeFormat)}
	// Payloads are not logged.
	logArgs := []any{c.RunID, uint32(c.QID), c.Flags, c.Size, fmt.Sprintf("(%d bytes)", len(c.Payload)), "(timestamp)"}

	start := time.Now()
	res, err := s.stmts.saveCapture.ExecContext(ctx, args...)
	if err != nil {
		s.logExec("SaveCapture", logArgs, start, err)
		return 0, fmt.Errorf("save capture: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save capture: %w", err)
	}
	s.logExec("SaveCapture", logArgs, start, nil, "id", id)
	return id, nil
}

func (s *sqliteStore) ListCaptures(ctx context.Context, f registry.CaptureFilter) ([]registry.Capture, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args := []any{f.RunID, uint32(f.QID), limit}

	start := time.Now()
	rows, err := s.stmts.listCaptures.QueryContext(ctx, args...)
	if err != nil {
		s.logExec("ListCaptures", args, start, err)
		return nil, err
	}
	defer rows.Close()

	var result []registry.Capture
	for rows.Next() {
		var c registry.Capture
		var qid uint32
		var capturedAt string
		if err := rows.Scan(&c.ID, &c.RunID, &qid, &c.Flags, &c.Size, &c.Payload, &capturedAt); err != nil {
			s.logExec("ListCaptures", args, start, err)
			return nil, err
		}
		c.QID = one.QID(qid)
		if c.CapturedAt, err = time.Parse(timeFormat, capturedAt); err != nil {
			return nil, fmt.Errorf("capture %d: bad captured_at %q: %w", c.ID, capturedAt, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		s.logExec("ListCaptures", args, start, err)
		return nil, err
	}
	s.logExec("ListCaptures", args, start, nil, "rows", len(result))
	return result, nil
}

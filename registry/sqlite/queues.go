package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/registry"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanQueue(row scanner) (registry.QueueRecord, error) {
	var r registry.QueueRecord
	var qid uint32
	var createdAt string
	if err := row.Scan(&qid, &r.Name, &r.Flags, &r.Managed, &createdAt); err != nil {
		return registry.QueueRecord{}, err
	}
	r.QID = one.QID(qid)
	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return registry.QueueRecord{}, fmt.Errorf("queue %d: bad created_at %q: %w", qid, createdAt, err)
	}
	r.CreatedAt = t
	return r, nil
}

func (s *sqliteStore) SaveQueue(ctx context.Context, r registry.QueueRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	args := []any{uint32(r.QID), r.Name, r.Flags, r.Managed, r.CreatedAt.UTC().Format(timeFormat)}

	start := time.Now()
	res, err := s.stmts.saveQueue.ExecContext(ctx, args...)
	if err != nil {
		s.logExec("SaveQueue", args, start, err)
		return fmt.Errorf("save queue %d: %w", r.QID, err)
	}
	rows, _ := res.RowsAffected()
	s.logExec("SaveQueue", args, start, nil, "rows_affected", rows)
	return nil
}

func (s *sqliteStore) GetQueue(ctx context.Context, qid one.QID) (registry.QueueRecord, error) {
	args := []any{uint32(qid)}
	start := time.Now()
	r, err := scanQueue(s.stmts.getQueue.QueryRowContext(ctx, args...))
	if errors.Is(err, sql.ErrNoRows) {
		s.logExec("GetQueue", args, start, nil, "rows", 0)
		return registry.QueueRecord{}, fmt.Errorf("queue %d: %w", qid, registry.ErrNotFound)
	}
	if err != nil {
		s.logExec("GetQueue", args, start, err)
		return registry.QueueRecord{}, err
	}
	s.logExec("GetQueue", args, start, nil, "rows", 1)
	return r, nil
}

func (s *sqliteStore) DeleteQueue(ctx context.Context, qid one.QID) error {
	args := []any{uint32(qid)}
	start := time.Now()
	res, err := s.stmts.deleteQueue.ExecContext(ctx, args...)
	if err != nil {
		s.logExec("DeleteQueue", args, start, err)
		return fmt.Errorf("delete queue %d: %w", qid, err)
	}
	rows, _ := res.RowsAffected()
	s.logExec("DeleteQueue", args, start, nil, "rows_affected", rows)
	if rows == 0 {
		return fmt.Errorf("queue %d: %w", qid, registry.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListQueues(ctx context.Context) ([]registry.QueueRecord, error) {
	start := time.Now()
	rows, err := s.stmts.listQueues.QueryContext(ctx)
	if err != nil {
		s.logExec("ListQueues", nil, start, err)
		return nil, err
	}
	defer rows.Close()

	var result []registry.QueueRecord
	for rows.Next() {
		r, err := scanQueue(rows)
		if err != nil {
			s.logExec("ListQueues", nil, start, err)
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		s.logExec("ListQueues", nil, start, err)
		return nil, err
	}
	s.logExec("ListQueues", nil, start, nil, "rows", len(result))
	return result, nil
}

func (s *sqliteStore) SaveAttachment(ctx context.Context, a registry.Attachment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	args := []any{uint32(a.QID), uint32(a.Target), a.CreatedAt.UTC().Format(timeFormat)}

	start := time.Now()
	res, err := s.stmts.saveAttachment.ExecContext(ctx, args...)
	if err != nil {
		s.logExec("SaveAttachment", args, start, err)
		return fmt.Errorf("save attachment %d->%d: %w", a.QID, a.Target, err)
	}
	rows, _ := res.RowsAffected()
	s.logExec("SaveAttachment", args, start, nil, "rows_affected", rows)
	return nil
}

func (s *sqliteStore) DeleteAttachment(ctx context.Context, qid, target one.QID) error {
	args := []any{uint32(qid), uint32(target)}
	start := time.Now()
	res, err := s.stmts.deleteAttachment.ExecContext(ctx, args...)
	if err != nil {
		s.logExec("DeleteAttachment", args, start, err)
		return fmt.Errorf("delete attachment %d->%d: %w", qid, target, err)
	}
	rows, _ := res.RowsAffected()
	s.logExec("DeleteAttachment", args, start, nil, "rows_affected", rows)
	if rows == 0 {
		return fmt.Errorf("attachment %d->%d: %w", qid, target, registry.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListAttachments(ctx context.Context, qid one.QID) ([]registry.Attachment, error) {
	stmt, name, args := s.stmts.listAttachments, "ListAttachments", []any{uint32(qid)}
	if qid == one.QIDNone {
		stmt, name, args = s.stmts.listAllAttachments, "ListAllAttachments", nil
	}

	start := time.Now()
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		s.logExec(name, args, start, err)
		return nil, err
	}
	defer rows.Close()

	var result []registry.Attachment
	for rows.Next() {
		var src, dst uint32
		var createdAt string
		if err := rows.Scan(&src, &dst, &createdAt); err != nil {
			s.logExec(name, args, start, err)
			return nil, err
		}
		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("attachment %d->%d: bad created_at %q: %w", src, dst, createdAt, err)
		}
		result = append(result, registry.Attachment{QID: one.QID(src), Target: one.QID(dst), CreatedAt: t})
	}
	if err := rows.Err(); err != nil {
		s.logExec(name, args, start, err)
		return nil, err
	}
	s.logExec(name, args, start, nil, "rows", len(result))
	return result, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type statements struct {
	getQueue    *sql.Stmt
	saveQueue   *sql.Stmt
	deleteQueue *sql.Stmt
	listQueues  *sql.Stmt

	saveAttachment     *sql.Stmt
	deleteAttachment   *sql.Stmt
	listAttachments    *sql.Stmt
	listAllAttachments *sql.Stmt

	saveCapture  *sql.Stmt
	listCaptures *sql.Stmt
}

func (st *statements) all() []**sql.Stmt {
	return []**sql.Stmt{
		&st.getQueue, &st.saveQueue, &st.deleteQueue, &st.listQueues,
		&st.saveAttachment, &st.deleteAttachment, &st.listAttachments, &st.listAllAttachments,
		&st.saveCapture, &st.listCaptures,
	}
}

func (st *statements) prepare(ctx context.Context, db *sql.DB) error {
	queries := []struct {
		name string
		dst  **sql.Stmt
		sql  string
	}{
		{"GetQueue", &st.getQueue, `
			SELECT qid, name, flags, managed, created_at
			FROM queues WHERE qid = ?`},
		{"SaveQueue", &st.saveQueue, `
			INSERT INTO queues (qid, name, flags, managed, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(qid) DO UPDATE SET
			  name = excluded.name,
			  flags = excluded.flags,
			  managed = excluded.managed,
			  created_at = excluded.created_at`},
		{"DeleteQueue", &st.deleteQueue, "DELETE FROM queues WHERE qid = ?"},
		{"ListQueues", &st.listQueues, `
			SELECT qid, name, flags, managed, created_at
			FROM queues ORDER BY qid`},

		{"SaveAttachment", &st.saveAttachment, `
			INSERT INTO attachments (qid, target, created_at) VALUES (?, ?, ?)
			ON CONFLICT(qid, target) DO NOTHING`},
		{"DeleteAttachment", &st.deleteAttachment, "DELETE FROM attachments WHERE qid = ? AND target = ?"},
		{"ListAttachments", &st.listAttachments, `
			SELECT qid, target, created_at FROM attachments
			WHERE qid = ? ORDER BY target`},
		{"ListAllAttachments", &st.listAllAttachments, `
			SELECT qid, target, created_at FROM attachments
			ORDER BY qid, target`},

		{"SaveCapture", &st.saveCapture, `
			INSERT INTO captures (run_id, qid, flags, size, payload, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)`},
		{"ListCaptures", &st.listCaptures, `
			SELECT id, run_id, qid, flags, size, payload, captured_at
			FROM captures
			WHERE (?1 = '' OR run_id = ?1) AND (?2 = 0 OR qid = ?2)
			ORDER BY id
			LIMIT ?3`},
	}

	for _, q := range queries {
		stmt, err := db.PrepareContext(ctx, q.sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", q.name, err)
		}
		*q.dst = stmt
	}
	return nil
}

// bind returns transaction-bound handles for every statement.
func (st *statements) bind(ctx context.Context, tx *sql.Tx) statements {
	var bound statements
	src, dst := st.all(), bound.all()
	for i := range src {
		*dst[i] = tx.StmtContext(ctx, *src[i])
	}
	return bound
}

// close closes every prepared statement. Errors are ignored because
// the database is closed next.
func (st *statements) close() {
	for _, stmt := range st.all() {
		if *stmt != nil {
			(*stmt).Close()
		}
	}
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// RecordFailedEmbedding upserts a dead-letter row for a message whose
// embedding attempts exhausted the Embedding Queue's retry budget
// (spec.md §4.5), bumping attempts and last_seen on repeat failures.
func (s *Store) RecordFailedEmbedding(ctx context.Context, messageID, reason string) error {
	const op = "store.record_failed_embedding"
	now := formatTime(time.Now().UTC())
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failed_embeddings (message_id, reason, first_seen, last_seen, attempts)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(message_id) DO UPDATE SET
				reason = excluded.reason,
				last_seen = excluded.last_seen,
				attempts = attempts + 1`,
			messageID, reason, now, now,
		)
		return err
	})
}

// ListFailedEmbeddings returns the dead-letter queue, oldest failure first,
// for the reaper and the admin dead-letters endpoint.
func (s *Store) ListFailedEmbeddings(ctx context.Context, limit int) ([]*FailedEmbedding, error) {
	const op = "store.list_failed_embeddings"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, reason, first_seen, last_seen, attempts FROM failed_embeddings
		ORDER BY first_seen ASC LIMIT ?`, limit)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*FailedEmbedding
	for rows.Next() {
		var f FailedEmbedding
		var firstSeen, lastSeen string
		if err := rows.Scan(&f.MessageID, &f.Reason, &firstSeen, &lastSeen, &f.Attempts); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		if f.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		if f.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ClearFailedEmbedding removes a dead-letter row once it has been
// successfully reprocessed or manually dismissed.
func (s *Store) ClearFailedEmbedding(ctx context.Context, messageID string) error {
	const op = "store.clear_failed_embedding"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM failed_embeddings WHERE message_id = ?`, messageID)
		return err
	})
}

// RecordPendingVectorDelete marks a conversation whose vector-store cleanup
// must be retried by the reaper after a direct delete attempt failed.
func (s *Store) RecordPendingVectorDelete(ctx context.Context, conversationID string) error {
	const op = "store.record_pending_vector_delete"
	now := formatTime(time.Now().UTC())
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_vector_deletes (conversation_id, first_seen, attempts)
			VALUES (?, ?, 1)
			ON CONFLICT(conversation_id) DO UPDATE SET attempts = attempts + 1`,
			conversationID, now,
		)
		return err
	})
}

// ListPendingVectorDeletes returns the reconciliation backlog for the reaper.
func (s *Store) ListPendingVectorDeletes(ctx context.Context, limit int) ([]*PendingVectorDelete, error) {
	const op = "store.list_pending_vector_deletes"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, first_seen, attempts FROM pending_vector_deletes
		ORDER BY first_seen ASC LIMIT ?`, limit)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*PendingVectorDelete
	for rows.Next() {
		var p PendingVectorDelete
		var firstSeen string
		if err := rows.Scan(&p.ConversationID, &firstSeen, &p.Attempts); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		if p.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ClearPendingVectorDelete removes a reconciliation row once the reaper has
// confirmed the vector store no longer holds vectors for the conversation.
func (s *Store) ClearPendingVectorDelete(ctx context.Context, conversationID string) error {
	const op = "store.clear_pending_vector_delete"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_vector_deletes WHERE conversation_id = ?`, conversationID)
		return err
	})
}

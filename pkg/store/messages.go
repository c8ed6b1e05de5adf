package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// AppendMessages inserts one or more messages into an existing conversation
// in a single transaction (spec.md §4.6 append_messages). The
// trg_messages_touch_conversation trigger updates the parent's word_count
// and updated_at as part of the same statement set.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs []*Message) ([]*Message, error) {
	const op = "store.append_messages"
	if len(msgs) == 0 {
		return nil, sekherr.New(sekherr.KindValidation, op, sekherr.ErrEmptyMessages)
	}

	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sekherr.NotFound(op, sekherr.ErrNotFound)
			}
			return err
		}
		return insertMessagesTx(ctx, tx, conversationID, msgs)
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// insertMessagesTx writes msgs to conversationID and bumps its session_count,
// all within the caller's transaction. It assumes the conversation row
// already exists (or is being created in the same transaction) — callers
// that append to a pre-existing conversation must verify that first.
func insertMessagesTx(ctx context.Context, tx *sql.Tx, conversationID string, msgs []*Message) error {
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.ConversationID = conversationID
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		m.CreatedAt = time.Now().UTC()

		var metaJSON any
		if len(m.Metadata) > 0 {
			b, err := json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metaJSON = string(b)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, timestamp, embedding_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, string(m.Role), m.Content, formatTime(m.Timestamp), m.EmbeddingID, metaJSON, formatTime(m.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `UPDATE conversations SET session_count = session_count + 1 WHERE id = ?`, conversationID)
	return err
}

// GetMessageList returns messages for a conversation ordered by
// (timestamp, message_rowid) ascending, the stable chronological order the
// Context Assembler and transcript export rely on.
func (s *Store) GetMessageList(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	const op = "store.get_message_list"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, timestamp, embedding_id, metadata, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp ASC, message_rowid ASC LIMIT ? OFFSET ?`, conversationID, limit, offset)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessagesInRange returns a conversation's messages with timestamp in
// [start, end), chronological order, the per-conversation window the daily
// Summarization Engine rollup reads (spec.md §4.9: "messages in [d, d+1)").
func (s *Store) GetMessagesInRange(ctx context.Context, conversationID string, start, end time.Time) ([]*Message, error) {
	const op = "store.get_messages_in_range"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, timestamp, embedding_id, metadata, created_at
		FROM messages WHERE conversation_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, message_rowid ASC`, conversationID, formatTime(start), formatTime(end))
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessagesByID hydrates messages by their UUIDs, used to resolve vector
// store query hits back to full message rows during retrieval.
func (s *Store) GetMessagesByID(ctx context.Context, ids []string) ([]*Message, error) {
	const op = "store.get_messages_by_id"
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, conversation_id, role, content, timestamp, embedding_id, metadata, created_at
		FROM messages WHERE id IN (%s)`, string(placeholders)), args...)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetEmbeddingID records the vector-store identifier assigned to a message
// once the Embedding Queue has successfully indexed it.
func (s *Store) SetEmbeddingID(ctx context.Context, messageID, embeddingID string) error {
	return s.execTouch(ctx, "store.set_embedding_id", `UPDATE messages SET embedding_id = ? WHERE id = ?`, embeddingID, messageID)
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var role, timestamp, createdAt string
	var embeddingID, metadata sql.NullString
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &timestamp, &embeddingID, &metadata, &createdAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	var err error
	if m.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if embeddingID.Valid {
		v := embeddingID.String
		m.EmbeddingID = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

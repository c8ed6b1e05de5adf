package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// CreateConversation inserts a new Conversation row (spec.md §4.6
// store_conversation, no-initial-messages path). ID, CreatedAt and UpdatedAt
// are populated if the caller leaves them zero.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) (*Conversation, error) {
	const op = "store.create_conversation"
	if err := prepareConversation(c); err != nil {
		return nil, err
	}
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		return insertConversationTx(ctx, tx, c)
	})
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	return c, nil
}

// CreateConversationWithMessages inserts the conversation row and its
// initial messages in a single transaction (spec.md §4.6 store_conversation:
// "begins a transaction, inserts the conversation row, inserts all messages,
// commits"). Either both succeed or neither is visible — a failed message
// insert never leaves an orphaned conversation row behind.
func (s *Store) CreateConversationWithMessages(ctx context.Context, c *Conversation, msgs []*Message) (*Conversation, []*Message, error) {
	const op = "store.create_conversation_with_messages"
	if err := prepareConversation(c); err != nil {
		return nil, nil, err
	}
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := insertConversationTx(ctx, tx, c); err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		return insertMessagesTx(ctx, tx, c.ID, msgs)
	})
	if err != nil {
		return nil, nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	return c, msgs, nil
}

// prepareConversation validates and fills in defaults shared by both
// conversation-creation paths.
func prepareConversation(c *Conversation) error {
	if err := ValidateFolder(c.Folder); err != nil {
		return err
	}
	if c.ImportanceScore == 0 {
		c.ImportanceScore = 5
	}
	if err := ValidateImportanceScore(c.ImportanceScore); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	return nil
}

// insertConversationTx writes c's row within the caller's transaction.
func insertConversationTx(ctx context.Context, tx *sql.Tx, c *Conversation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversations
			(id, label, folder, status, importance_score, word_count, session_count, last_referenced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Label, c.Folder, string(c.Status), c.ImportanceScore, c.WordCount, c.SessionCount,
		nullableTime(c.LastReferencedAt), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

// GetConversation loads a Conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const op = "store.get_conversation"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, folder, status, importance_score, word_count, session_count, last_referenced_at, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sekherr.NotFound(op, sekherr.ErrNotFound)
	}
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	return c, nil
}

// ListConversations returns conversations under folder (prefix match when
// recursive is true) filtered by optional label/status, newest-updated first.
func (s *Store) ListConversations(ctx context.Context, folder string, recursive bool, label string, status Status, limit, offset int) ([]*Conversation, error) {
	const op = "store.list_conversations"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := `SELECT id, label, folder, status, importance_score, word_count, session_count, last_referenced_at, created_at, updated_at
		FROM conversations WHERE 1=1`
	args := []any{}
	if folder != "" {
		if recursive {
			q += " AND (folder = ? OR folder LIKE ?)"
			args = append(args, folder, folder+"/%")
		} else {
			q += " AND folder = ?"
			args = append(args, folder)
		}
	}
	if label != "" {
		q += " AND label = ?"
		args = append(args, label)
	}
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateLabel renames a conversation; the touch trigger re-stamps updated_at.
func (s *Store) UpdateLabel(ctx context.Context, id, label string) error {
	return s.execTouch(ctx, "store.update_label", `UPDATE conversations SET label = ? WHERE id = ?`, label, id)
}

// SetStatus transitions a conversation's lifecycle status (active/archived/pinned).
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	return s.execTouch(ctx, "store.set_status", `UPDATE conversations SET status = ? WHERE id = ?`, string(status), id)
}

// SetImportance overwrites the importance score (I4: values outside [1,10] are rejected).
func (s *Store) SetImportance(ctx context.Context, id string, score int) error {
	const op = "store.set_importance"
	if err := ValidateImportanceScore(score); err != nil {
		return err
	}
	return s.execTouch(ctx, op, `UPDATE conversations SET importance_score = ? WHERE id = ?`, score, id)
}

// TouchLastReferenced records that a conversation surfaced in retrieval or
// context assembly, feeding the recency term of the importance heuristic.
func (s *Store) TouchLastReferenced(ctx context.Context, id string, at time.Time) error {
	return s.execTouch(ctx, "store.touch_last_referenced", `UPDATE conversations SET last_referenced_at = ? WHERE id = ?`, formatTime(at), id)
}

// DeleteConversation removes a conversation and, via ON DELETE CASCADE, its
// messages/summaries/tags. The caller (Repository) is responsible for
// recording a pending_vector_deletes row before or after this call so the
// reaper can clean up the derived vector-store index.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	const op = "store.delete_conversation"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sekherr.NotFound(op, sekherr.ErrNotFound)
		}
		return nil
	})
}

func (s *Store) execTouch(ctx context.Context, op, query string, args ...any) error {
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sekherr.NotFound(op, sekherr.ErrNotFound)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var status, createdAt, updatedAt string
	var lastRef sql.NullString
	if err := row.Scan(&c.ID, &c.Label, &c.Folder, &status, &c.ImportanceScore, &c.WordCount, &c.SessionCount, &lastRef, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastRef.Valid {
		t, err := parseTime(lastRef.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_referenced_at: %w", err)
		}
		c.LastReferencedAt = &t
	}
	return &c, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// UpsertTag associates a semantic tag with a conversation, replacing the
// confidence of an existing (conversation, tag) pair. Used by the label
// suggestion path (spec.md §4.10) to persist accepted/auto-applied labels
// as searchable tags distinct from the single free-text Label field.
func (s *Store) UpsertTag(ctx context.Context, tag *SemanticTag) error {
	const op = "store.upsert_tag"
	if tag.ExtractedAt.IsZero() {
		tag.ExtractedAt = time.Now().UTC()
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO semantic_tags (conversation_id, tag, confidence, extracted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id, tag) DO UPDATE SET
				confidence = excluded.confidence,
				extracted_at = excluded.extracted_at`,
			tag.ConversationID, tag.Tag, tag.Confidence, formatTime(tag.ExtractedAt),
		)
		return err
	})
}

// ListTags returns every tag recorded for a conversation, highest confidence first.
func (s *Store) ListTags(ctx context.Context, conversationID string) ([]*SemanticTag, error) {
	const op = "store.list_tags"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, tag, confidence, extracted_at FROM semantic_tags
		WHERE conversation_id = ? ORDER BY confidence DESC`, conversationID)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*SemanticTag
	for rows.Next() {
		var t SemanticTag
		var extractedAt string
		if err := rows.Scan(&t.ConversationID, &t.Tag, &t.Confidence, &extractedAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		if t.ExtractedAt, err = parseTime(extractedAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DistinctTags returns every tag in use across all conversations, used to seed
// the label-suggestion candidate pool's edit-distance comparison set.
func (s *Store) DistinctTags(ctx context.Context) ([]string, error) {
	const op = "store.distinct_tags"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM semantic_tags ORDER BY tag ASC`)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// UpsertSummary writes a hierarchical summary, replacing any prior summary
// for the same (conversation, level, range) so the Summarization Engine can
// safely re-run a rollup without creating duplicates (spec.md §4.9:
// idempotent on conflict).
func (s *Store) UpsertSummary(ctx context.Context, sum *HierarchicalSummary) (*HierarchicalSummary, error) {
	const op = "store.upsert_summary"
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.GeneratedAt.IsZero() {
		sum.GeneratedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hierarchical_summaries (id, conversation_id, level, summary_text, range_start, range_end, generated_at, model_used, token_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, level, range_start, range_end) DO UPDATE SET
				summary_text = excluded.summary_text,
				generated_at = excluded.generated_at,
				model_used = excluded.model_used,
				token_count = excluded.token_count`,
			sum.ID, sum.ConversationID, string(sum.Level), sum.SummaryText,
			formatTime(sum.RangeStart), formatTime(sum.RangeEnd), formatTime(sum.GeneratedAt), sum.ModelUsed, sum.TokenCount,
		)
		return err
	})
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	return sum, nil
}

// ListSummaries returns summaries for a conversation at the given level
// (or every level if level is empty), oldest range first.
func (s *Store) ListSummaries(ctx context.Context, conversationID string, level SummaryLevel) ([]*HierarchicalSummary, error) {
	const op = "store.list_summaries"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	q := `SELECT id, conversation_id, level, summary_text, range_start, range_end, generated_at, model_used, token_count
		FROM hierarchical_summaries WHERE conversation_id = ?`
	args := []any{conversationID}
	if level != "" {
		q += " AND level = ?"
		args = append(args, string(level))
	}
	q += " ORDER BY range_start ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []*HierarchicalSummary
	for rows.Next() {
		var sum HierarchicalSummary
		var level, rangeStart, rangeEnd, generatedAt string
		var modelUsed sql.NullString
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &level, &sum.SummaryText, &rangeStart, &rangeEnd, &generatedAt, &modelUsed, &sum.TokenCount); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		sum.Level = SummaryLevel(level)
		sum.ModelUsed = modelUsed.String
		if sum.RangeStart, err = parseTime(rangeStart); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("parse range_start: %w", err))
		}
		if sum.RangeEnd, err = parseTime(rangeEnd); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("parse range_end: %w", err))
		}
		if sum.GeneratedAt, err = parseTime(generatedAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("parse generated_at: %w", err))
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// ListPruneCandidates returns active, non-pinned conversations with low
// importance that have not been touched in thresholdDays, the raw query
// behind spec.md §4.10's prune recommendation. Status is checked against
// StatusActive explicitly: archived conversations are already out of default
// retrieval and pinned conversations are excluded by definition.
func (s *Store) ListPruneCandidates(ctx context.Context, thresholdDays int, maxImportance int) ([]*Conversation, error) {
	const op = "store.list_prune_candidates"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if thresholdDays <= 0 {
		thresholdDays = 90
	}
	if maxImportance <= 0 {
		maxImportance = 3
	}
	cutoff := time.Now().UTC().Add(-time.Duration(thresholdDays) * 24 * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, folder, status, importance_score, word_count, session_count, last_referenced_at, created_at, updated_at
		FROM conversations
		WHERE status = ? AND importance_score <= ? AND updated_at < ?
		ORDER BY updated_at ASC`,
		string(StatusActive), maxImportance, formatTime(cutoff),
	)
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

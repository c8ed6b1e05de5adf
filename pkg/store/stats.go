package store

import (
	"context"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// Stats is the aggregate snapshot returned by the memory_stats tool and the
// /api/v1/stats endpoint (spec.md §4.11).
type Stats struct {
	TotalConversations int            `json:"total_conversations"`
	TotalMessages      int            `json:"total_messages"`
	ByStatus           map[string]int `json:"by_status"`
	ByFolder           map[string]int `json:"by_folder"`
	FailedEmbeddings   int            `json:"failed_embeddings"`
	PendingDeletes     int            `json:"pending_vector_deletes"`
}

// GetStats aggregates counts across the whole store. Folder breakdown is
// capped implicitly by SQLite's GROUP BY cost; callers needing per-folder
// drill-down for very large trees should use ListConversations with a
// folder filter instead.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	const op = "store.get_stats"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}

	st := &Stats{ByStatus: map[string]int{}, ByFolder: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.TotalConversations); err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages); err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_embeddings`).Scan(&st.FailedEmbeddings); err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_vector_deletes`).Scan(&st.PendingDeletes); err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		st.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT folder, COUNT(*) FROM conversations GROUP BY folder`)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var folder string
		var n int
		if err := rows.Scan(&folder, &n); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		st.ByFolder[folder] = n
	}
	return st, rows.Err()
}

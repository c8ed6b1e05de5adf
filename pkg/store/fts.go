package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
)

// FTSHit is one BM25-ranked full-text match.
type FTSHit struct {
	Message *Message
	BM25    float64 // raw FTS5 bm25(); more negative is a better match
}

// FTSFilters narrows a full-text search beyond the raw query text
// (spec.md §4.7: "folder (prefix), label (exact), status, role, created_at
// range, importance_score range"). Zero-value fields are left unapplied.
type FTSFilters struct {
	ConversationID string
	Folder         string
	Label          string
	Status         Status
	Role           Role
	ImportanceMin  int
	ImportanceMax  int
	CreatedAtFrom  time.Time
	CreatedAtTo    time.Time
}

// SearchFullText runs a Porter-stemmed FTS5 MATCH query against message
// content, joined against the owning conversation so folder/label/status/
// importance filters apply in the same query, ordered by bm25() ascending
// (best match first). This backs both the full-text retrieval mode
// (spec.md §4.8) and the degraded-mode fallback the Context Assembler uses
// when the vector store is unavailable.
func (s *Store) SearchFullText(ctx context.Context, query string, filters FTSFilters, limit int) ([]FTSHit, error) {
	const op = "store.search_fulltext"
	if query == "" {
		return nil, sekherr.New(sekherr.KindValidation, op, sekherr.ErrEmptyQuery)
	}
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := `
		SELECT m.id, m.conversation_id, m.role, m.content, m.timestamp, m.embedding_id, m.metadata, m.created_at,
		       bm25(messages_fts) AS rank
		FROM messages_fts
		JOIN messages m ON m.message_rowid = messages_fts.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ?`
	args := []any{query}
	if filters.ConversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, filters.ConversationID)
	}
	if filters.Folder != "" {
		q += " AND (c.folder = ? OR c.folder LIKE ?)"
		args = append(args, filters.Folder, filters.Folder+"/%")
	}
	if filters.Label != "" {
		q += " AND c.label = ?"
		args = append(args, filters.Label)
	}
	if filters.Status != "" {
		q += " AND c.status = ?"
		args = append(args, string(filters.Status))
	}
	if filters.Role != "" {
		q += " AND m.role = ?"
		args = append(args, string(filters.Role))
	}
	if filters.ImportanceMin > 0 {
		q += " AND c.importance_score >= ?"
		args = append(args, filters.ImportanceMin)
	}
	if filters.ImportanceMax > 0 {
		q += " AND c.importance_score <= ?"
		args = append(args, filters.ImportanceMax)
	}
	if !filters.CreatedAtFrom.IsZero() {
		q += " AND m.timestamp >= ?"
		args = append(args, formatTime(filters.CreatedAtFrom))
	}
	if !filters.CreatedAtTo.IsZero() {
		q += " AND m.timestamp < ?"
		args = append(args, formatTime(filters.CreatedAtTo))
	}
	q += " ORDER BY rank ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var m Message
		var role, timestamp, createdAt string
		var embeddingID, metadata sql.NullString
		var rank float64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &timestamp, &embeddingID, &metadata, &createdAt, &rank); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		m.Role = Role(role)
		if m.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("parse timestamp: %w", err))
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("parse created_at: %w", err))
		}
		if embeddingID.Valid {
			v := embeddingID.String
			m.EmbeddingID = &v
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, sekherr.New(sekherr.KindInternal, op, fmt.Errorf("unmarshal metadata: %w", err))
			}
		}
		out = append(out, FTSHit{Message: &m, BM25: rank})
	}
	return out, rows.Err()
}

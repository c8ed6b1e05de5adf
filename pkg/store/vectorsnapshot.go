package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/internal/vecbytes"
)

// VectorSnapshot is one persisted row of the embedded vector store's
// in-memory index, keyed by the same id as the owning Message or summary.
type VectorSnapshot struct {
	ID        string
	Vector    []float32
	Metadata  string // JSON-encoded map[string]string, opaque to the Relational Store
	UpdatedAt time.Time
}

// SaveVectorSnapshot upserts the encoded vector bytes for id, letting
// vectorstore.Embedded (the single-binary vector index, which otherwise
// lives only in memory) restore its graph across a process restart.
func (s *Store) SaveVectorSnapshot(ctx context.Context, id string, vec []float32, metadataJSON string) error {
	const op = "store.save_vector_snapshot"
	encoded, err := vecbytes.Encode(vec)
	if err != nil {
		return sekherr.New(sekherr.KindValidation, op, err)
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vector_snapshots (id, vector, metadata, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, metadata = excluded.metadata, updated_at = excluded.updated_at`,
			id, encoded, metadataJSON, formatTime(time.Now().UTC()),
		)
		return err
	})
}

// DeleteVectorSnapshot removes a persisted vector, mirroring a Delete/DeleteWhere
// against the in-memory HNSW graph.
func (s *Store) DeleteVectorSnapshot(ctx context.Context, id string) error {
	const op = "store.delete_vector_snapshot"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM vector_snapshots WHERE id = ?`, id)
		return err
	})
}

// DeleteVectorSnapshotsByIDs removes every snapshot whose id is in ids in one
// transaction. (Embedded's DeleteWhere, which a conversation delete cascades
// to, removes snapshots one id at a time through DeleteVectorSnapshot.)
func (s *Store) DeleteVectorSnapshotsByIDs(ctx context.Context, ids []string) error {
	const op = "store.delete_vector_snapshots_by_ids"
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vector_snapshots WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadVectorSnapshots streams every persisted vector back, for
// vectorstore.Embedded to rebuild its HNSW graph at startup.
func (s *Store) LoadVectorSnapshots(ctx context.Context) ([]VectorSnapshot, error) {
	const op = "store.load_vector_snapshots"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, metadata, updated_at FROM vector_snapshots`)
	if err != nil {
		return nil, sekherr.New(sekherr.KindInternal, op, err)
	}
	defer rows.Close()

	var out []VectorSnapshot
	for rows.Next() {
		var snap VectorSnapshot
		var vecBytes []byte
		var metadata sql.NullString
		var updatedAt string
		if err := rows.Scan(&snap.ID, &vecBytes, &metadata, &updatedAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		snap.Vector, err = vecbytes.Decode(vecBytes)
		if err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		snap.Metadata = metadata.String
		if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, sekherr.New(sekherr.KindInternal, op, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

package vectorstore

import (
	"context"
	"encoding/json"
)

// SnapshotSink persists and restores the vectors held by Embedded so a
// single-binary deployment survives a restart without losing every
// previously-indexed message (the HNSW graph itself is in-memory only).
// NewStoreSink (storeadapter.go) adapts pkg/store.Store to this interface.
type SnapshotSink interface {
	SaveVectorSnapshot(ctx context.Context, id string, vec []float32, metadataJSON string) error
	DeleteVectorSnapshot(ctx context.Context, id string) error
	LoadVectorSnapshots(ctx context.Context) ([]SnapshotRow, error)
}

// SnapshotRow is one persisted vector, matching store.VectorSnapshot's shape
// so that Embedded and SnapshotSink do not use the store package's types;
// storeSink (storeadapter.go) converts the rows.
type SnapshotRow struct {
	ID       string
	Vector   []float32
	Metadata string
}

// LoadFromSink rebuilds the in-memory HNSW graph from a durable snapshot at
// startup. Call this once, before serving traffic, when vector_store.url is
// unset (the embedded adapter is in use).
func (e *Embedded) LoadFromSink(ctx context.Context, rows []SnapshotRow) error {
	for _, r := range rows {
		md := map[string]string{}
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &md); err != nil {
				return err
			}
		}
		if err := e.Upsert(ctx, r.ID, r.Vector, md); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotTo wraps sink so every subsequent Upsert/Delete/DeleteWhere is also
// durably persisted, letting the next LoadFromSink call recover this index.
func (e *Embedded) SnapshotTo(sink SnapshotSink) *Embedded {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	return e
}

// Bootstrap loads every persisted vector from sink into the graph and then
// wires sink for ongoing persistence, the one-call form cmd/sekha uses at
// startup when vector_store.url is unset.
func (e *Embedded) Bootstrap(ctx context.Context, sink SnapshotSink) error {
	rows, err := sink.LoadVectorSnapshots(ctx)
	if err != nil {
		return err
	}
	if err := e.LoadFromSink(ctx, rows); err != nil {
		return err
	}
	e.SnapshotTo(sink)
	return nil
}

package vectorstore

import (
	"context"

	"github.com/sekha-ai/sekha/pkg/store"
)

// storeSink adapts *store.Store to SnapshotSink. It lives in this package
// (rather than store, which stays free of vectorstore's import) since store
// has no reason to know vectorstore's row shape.
type storeSink struct {
	s *store.Store
}

// NewStoreSink wraps the Relational Store as a SnapshotSink for Embedded.
func NewStoreSink(s *store.Store) SnapshotSink {
	return &storeSink{s: s}
}

func (a *storeSink) SaveVectorSnapshot(ctx context.Context, id string, vec []float32, metadataJSON string) error {
	return a.s.SaveVectorSnapshot(ctx, id, vec, metadataJSON)
}

func (a *storeSink) DeleteVectorSnapshot(ctx context.Context, id string) error {
	return a.s.DeleteVectorSnapshot(ctx, id)
}

func (a *storeSink) LoadVectorSnapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := a.s.LoadVectorSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotRow, len(rows))
	for i, r := range rows {
		out[i] = SnapshotRow{ID: r.ID, Vector: r.Vector, Metadata: r.Metadata}
	}
	return out, nil
}

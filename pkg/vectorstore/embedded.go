package vectorstore

import (
	"context"
	"encoding/json"
	"math"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	surface "github.com/kshard/vector"
)

// Embedded is a single-process Store backed by an in-memory HNSW graph, for
// deployments that don't want to run a separate vector database. It is
// adapted from the teacher's SQLiteStore.hnswIndex wiring: the same
// string-ID <-> uint32-key bookkeeping (HNSW keys are uint32, the engine's
// vector IDs are UUID strings) and the same cosine-similarity surface.
//
// Matching the teacher's own Delete behavior, removing a vector does not
// prune it from the HNSW graph — fogfish/hnsw has no node-removal API — it
// is filtered out of results via the deleted set and dropped for real the
// next time the graph is rebuilt from scratch (cold start).
type Embedded struct {
	mu      sync.RWMutex
	index   *hnsw.HNSW[vector.VF32]
	idToKey map[string]uint32
	keyToID map[uint32]string
	nextKey uint32
	vecs    map[string][]float32
	meta    map[string]map[string]string
	deleted map[string]bool
	sink    SnapshotSink

	m              int
	efConstruction int
	efSearch       int
}

// EmbeddedConfig tunes the HNSW graph, mirroring the teacher's HNSWConfig knobs.
type EmbeddedConfig struct {
	M              int // max bidirectional links per node, teacher default 16
	EfConstruction int // build-time candidate list size, teacher default 200
	EfSearch       int // query-time candidate list size, teacher default 50
}

// NewEmbedded constructs an empty in-memory vector index.
func NewEmbedded(cfg EmbeddedConfig) *Embedded {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	return &Embedded{
		index:          hnsw.New(vector.SurfaceVF32(surface.Cosine()), hnsw.WithM(cfg.M), hnsw.WithEfConstruction(cfg.EfConstruction)),
		idToKey:        make(map[string]uint32),
		keyToID:        make(map[uint32]string),
		vecs:           make(map[string][]float32),
		meta:           make(map[string]map[string]string),
		deleted:        make(map[string]bool),
		nextKey:        1,
		m:              cfg.M,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
	}
}

func (e *Embedded) Upsert(_ context.Context, id string, vec []float32, metadata map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, exists := e.idToKey[id]
	if !exists {
		key = e.nextKey
		e.nextKey++
		e.idToKey[id] = key
		e.keyToID[key] = id
	}
	e.index.Insert(vector.VF32{Key: key, Vec: vec})
	e.vecs[id] = vec
	e.meta[id] = metadata
	delete(e.deleted, id)

	if e.sink != nil {
		mdJSON, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		return e.sink.SaveVectorSnapshot(context.Background(), id, vec, string(mdJSON))
	}
	return nil
}

// Query asks the HNSW graph for an over-fetched candidate set by key, then
// recomputes cosine similarity against the stored vectors itself rather
// than trusting a raw graph distance value — the same "HNSW picks
// candidates, exact scoring happens afterward" split the teacher's
// searchWithHNSW uses.
func (e *Embedded) Query(_ context.Context, vec []float32, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	neighbors := e.index.Search(vector.VF32{Key: 0, Vec: vec}, topK*3, e.efSearch)

	hits := make([]Hit, 0, topK)
	for _, n := range neighbors {
		id, ok := e.keyToID[n.Key]
		if !ok || e.deleted[id] {
			continue
		}
		md := e.meta[id]
		if !matchesFilter(md, filter) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: cosineSimilarity(vec, e.vecs[id]), Metadata: md})
	}

	sortHitsDesc(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortHitsDesc(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func matchesFilter(metadata map[string]string, filter Filter) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func (e *Embedded) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.idToKey[id]; !ok {
		e.mu.Unlock()
		return nil
	}
	e.deleted[id] = true
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		return sink.DeleteVectorSnapshot(ctx, id)
	}
	return nil
}

func (e *Embedded) DeleteWhere(ctx context.Context, filter Filter) error {
	e.mu.Lock()
	var toDelete []string
	for id, md := range e.meta {
		if matchesFilter(md, filter) {
			e.deleted[id] = true
			toDelete = append(toDelete, id)
		}
	}
	sink := e.sink
	e.mu.Unlock()

	if sink == nil {
		return nil
	}
	for _, id := range toDelete {
		if err := sink.DeleteVectorSnapshot(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Embedded) Ping(context.Context) error { return nil }

func (e *Embedded) Close() error { return nil }

// Size returns the number of live (non-deleted) vectors, used by /health and
// memory_stats to report the embedded index's footprint.
func (e *Embedded) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.idToKey) - len(e.deleted)
}

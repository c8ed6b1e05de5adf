package vectorstore

import (
	"context"
	"testing"
)

func TestEmbeddedUpsertAndQuery(t *testing.T) {
	e := NewEmbedded(EmbeddedConfig{})
	ctx := context.Background()

	if err := e.Upsert(ctx, "a", []float32{1, 0, 0}, map[string]string{"kind": "message"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := e.Upsert(ctx, "b", []float32{0, 1, 0}, map[string]string{"kind": "message"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := e.Query(ctx, []float32{1, 0, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].ID != "a" {
		t.Errorf("best match = %q, want %q", hits[0].ID, "a")
	}
}

func TestEmbeddedDeleteExcludesFromQuery(t *testing.T) {
	e := NewEmbedded(EmbeddedConfig{})
	ctx := context.Background()
	if err := e.Upsert(ctx, "a", []float32{1, 0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := e.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, err := e.Query(ctx, []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected 0 hits after delete, got %d", len(hits))
	}
}

func TestEmbeddedDeleteWhereFilter(t *testing.T) {
	e := NewEmbedded(EmbeddedConfig{})
	ctx := context.Background()
	if err := e.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"conversation_id": "c1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := e.Upsert(ctx, "b", []float32{0, 1}, map[string]string{"conversation_id": "c2"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := e.DeleteWhere(ctx, Filter{"conversation_id": "c1"}); err != nil {
		t.Fatalf("DeleteWhere: %v", err)
	}
	if e.Size() != 1 {
		t.Errorf("Size() = %d, want 1", e.Size())
	}
}

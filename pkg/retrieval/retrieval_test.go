package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedder) Dimension(ctx context.Context) (int, error) { return 3, nil }

func newTestEngine(t *testing.T, embedFails bool) (*Engine, string) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "sekha.db"), MaxConnections: 1})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c, err := s.CreateConversation(context.Background(), &store.Conversation{Folder: "/"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	msgs, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
		{Role: store.RoleUser, Content: "the quarterly budget review happens tomorrow"},
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	if err := vecs.Upsert(context.Background(), msgs[0].ID, []float32{1, 0, 0}, map[string]string{"conversation_id": c.ID}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	return New(Config{Store: s, Vectors: vecs, Embedder: &fakeEmbedder{fail: embedFails}}), msgs[0].ID
}

func TestSemanticSearchFindsUpsertedVector(t *testing.T) {
	e, msgID := newTestEngine(t, false)
	results, degraded, err := e.SemanticSearch(context.Background(), "budget", Filters{}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if degraded {
		t.Fatal("expected non-degraded result")
	}
	if len(results) != 1 || results[0].Message.ID != msgID {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSemanticSearchDegradesToFullTextWhenEmbedderDown(t *testing.T) {
	e, msgID := newTestEngine(t, true)
	results, degraded, err := e.SemanticSearch(context.Background(), "budget", Filters{}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if !degraded {
		t.Fatal("expected degraded=true when embedder unavailable")
	}
	if len(results) != 1 || results[0].Message.ID != msgID {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestHybridSearchMergesBothModes(t *testing.T) {
	e, msgID := newTestEngine(t, false)
	results, _, err := e.HybridSearch(context.Background(), "budget", Filters{}, 10)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) != 1 || results[0].Message.ID != msgID {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Semantic == 0 || results[0].BM25 == 0 {
		t.Errorf("expected both semantic and bm25 contributions, got %+v", results[0])
	}
}

func TestFullTextSearchAppliesFolderStatusAndImportanceFilters(t *testing.T) {
	e, msgID := newTestEngine(t, false)

	results, err := e.FullTextSearch(context.Background(), "budget", Filters{Folder: "/"}, 10)
	if err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	}
	if len(results) != 1 || results[0].Message.ID != msgID {
		t.Fatalf("expected folder filter to match, got %+v", results)
	}

	if results, err := e.FullTextSearch(context.Background(), "budget", Filters{Folder: "/elsewhere"}, 10); err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	} else if len(results) != 0 {
		t.Fatalf("expected mismatched folder to exclude the message, got %+v", results)
	}

	if results, err := e.FullTextSearch(context.Background(), "budget", Filters{Status: store.StatusArchived}, 10); err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	} else if len(results) != 0 {
		t.Fatalf("expected status filter to exclude an active conversation, got %+v", results)
	}

	if results, err := e.FullTextSearch(context.Background(), "budget", Filters{ImportanceMin: 9}, 10); err != nil {
		t.Fatalf("FullTextSearch: %v", err)
	} else if len(results) != 0 {
		t.Fatalf("expected importance_min filter to exclude the default-importance conversation, got %+v", results)
	}
}

func TestSemanticSearchAppliesLabelFilter(t *testing.T) {
	e, msgID := newTestEngine(t, false)

	results, _, err := e.SemanticSearch(context.Background(), "budget", Filters{Label: "nonexistent"}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected label filter to exclude unlabeled conversation, got %+v", results)
	}

	results, _, err = e.SemanticSearch(context.Background(), "budget", Filters{}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 1 || results[0].Message.ID != msgID {
		t.Fatalf("expected unfiltered search to still match, got %+v", results)
	}
}

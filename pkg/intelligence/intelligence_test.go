package intelligence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/repository"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarizer"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

type fakeSummarizer struct {
	result *summarizer.Result
}

func (f *fakeSummarizer) Summarize(context.Context, string, []summarizer.Input) (*summarizer.Result, error) {
	return f.result, nil
}

func newTestEngine(t *testing.T, result *summarizer.Result) (*Engine, *store.Store, *repository.Repository) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "sekha.db"), MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	q := queue.New(queue.Config{Workers: 1}, func(ctx context.Context, job queue.Job) error {
		return vecs.Upsert(ctx, job.MessageID, []float32{1, 0, 0}, map[string]string{"conversation_id": job.ConversationID})
	}, s)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	repo := repository.New(repository.Config{Store: s, Queue: q, Vectors: vecs})
	eng := New(Config{Store: s, Summarizer: &fakeSummarizer{result: result}})
	return eng, s, repo
}

func TestSuggestLabelsSnapsToExistingVocabulary(t *testing.T) {
	eng, s, repo := newTestEngine(t, &summarizer.Result{
		Summary:         "x",
		LabelCandidates: []string{"golang-project", "unrelated-topic"},
	})
	ctx := context.Background()

	c, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/work"}, []*store.Message{
		{Role: store.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	require.NoError(t, s.UpsertTag(ctx, &store.SemanticTag{ConversationID: c.ID, Tag: "golang project", Confidence: 0.9}))

	suggestions, err := eng.SuggestLabels(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	require.True(t, suggestions[0].Snapped)
	require.Equal(t, "golang project", suggestions[0].Label)
	require.False(t, suggestions[1].Snapped)
	require.Equal(t, "unrelated-topic", suggestions[1].Label)
}

func TestScoreImportanceBlendsHeuristics(t *testing.T) {
	eng, s, repo := newTestEngine(t, &summarizer.Result{Summary: "x", ImportanceScore: 5})
	ctx := context.Background()

	c, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/work"}, []*store.Message{
		{Role: store.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, c.ID, store.StatusPinned))
	require.NoError(t, s.TouchLastReferenced(ctx, c.ID, time.Now().UTC()))

	score, err := eng.ScoreImportance(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 8, score) // 5 base + 2 pinned + 1 recent

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.ImportanceScore)
}

func TestScoreImportanceClampsToTen(t *testing.T) {
	eng, s, repo := newTestEngine(t, &summarizer.Result{Summary: "x", ImportanceScore: 10})
	ctx := context.Background()

	c, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/work"}, []*store.Message{
		{Role: store.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, c.ID, store.StatusPinned))
	require.NoError(t, s.TouchLastReferenced(ctx, c.ID, time.Now().UTC()))

	score, err := eng.ScoreImportance(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 10, score)
}

func TestPruneDryRunExcludesPinnedAndRecent(t *testing.T) {
	eng, _, repo := newTestEngine(t, &summarizer.Result{Summary: "x", ImportanceScore: 2})
	ctx := context.Background()

	oldTime := time.Now().UTC().Add(-100 * 24 * time.Hour)
	stale, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/old", CreatedAt: oldTime, ImportanceScore: 2}, nil)
	require.NoError(t, err)

	_, _, err = repo.StoreConversation(ctx, &store.Conversation{Folder: "/new", ImportanceScore: 2}, nil)
	require.NoError(t, err)

	pinned, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/pin", CreatedAt: oldTime, ImportanceScore: 2, Status: store.StatusPinned}, nil)
	require.NoError(t, err)
	_ = pinned

	candidates, err := eng.PruneDryRun(ctx, 90, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, stale.ID, candidates[0].ConversationID)
}

func TestPruneExecuteDeletesApproved(t *testing.T) {
	eng, _, repo := newTestEngine(t, &summarizer.Result{Summary: "x", ImportanceScore: 2})
	ctx := context.Background()

	c, _, err := repo.StoreConversation(ctx, &store.Conversation{Folder: "/old"}, []*store.Message{{Role: store.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	deleted, err := eng.PruneExecute(ctx, repo, []string{c.ID})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.GetConversation(ctx, c.ID)
	require.Error(t, err)
}

func TestNormalizedEditDistance(t *testing.T) {
	require.Equal(t, 0.0, normalizedEditDistance("same", "same"))
	require.Greater(t, normalizedEditDistance("golang", "rust"), 0.5)
	require.Less(t, normalizedEditDistance("golang-project", "golang project"), snapThreshold)
}

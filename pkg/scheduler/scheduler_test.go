package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "sekha.db"), MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReapFailedEmbeddingsReenqueuesAndClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, &store.Conversation{Folder: "/work"})
	require.NoError(t, err)
	msgs, err := s.AppendMessages(ctx, c.ID, []*store.Message{{Role: store.RoleUser, Content: "retry me"}})
	require.NoError(t, err)
	require.NoError(t, s.RecordFailedEmbedding(ctx, msgs[0].ID, "embedder unavailable"))

	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	var handled []string
	q := queue.New(queue.Config{Workers: 1}, func(_ context.Context, job queue.Job) error {
		handled = append(handled, job.MessageID)
		return vecs.Upsert(context.Background(), job.MessageID, []float32{1, 0, 0}, nil)
	}, s)
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.Start(qctx)

	sc := New(Config{Store: s, Queue: q, Vectors: vecs})
	sc.reapFailedEmbeddings(ctx)

	time.Sleep(50 * time.Millisecond) // let the one worker drain the re-enqueued job
	require.Contains(t, handled, msgs[0].ID)

	remaining, err := s.ListFailedEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestReapPendingVectorDeletesClearsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPendingVectorDelete(ctx, "conv-1"))

	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	sc := New(Config{Store: s, Vectors: vecs})
	sc.reapPendingVectorDeletes(ctx)

	remaining, err := s.ListPendingVectorDeletes(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestJobLockRefusesSecondHolderWhileHeld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireJobLock(ctx, "reaper.pending_vector_deletes", "someone-else", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RecordPendingVectorDelete(ctx, "conv-2"))

	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	sc := New(Config{Store: s, Vectors: vecs})

	acquired, err := s.AcquireJobLock(ctx, lockVectorReaper, sc.holder, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.False(t, acquired, "a second holder must not acquire an unexpired lock")
}

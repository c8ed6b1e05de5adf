package summarization

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarizer"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, level string, inputs []summarizer.Input) (*summarizer.Result, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs")
	}
	f.calls++
	return &summarizer.Result{Summary: "summary of " + level + " with " + inputs[0].Content, ImportanceScore: 5}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (fakeEmbedder) Dimension(context.Context) (int, error)           { return 3, nil }

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeSummarizer) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "sekha.db"), MaxConnections: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs := &fakeSummarizer{}
	vecs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	eng := New(Config{Store: s, Summarizer: fs, Embedder: fakeEmbedder{}, Vectors: vecs, Model: "test-model"})
	return eng, s, fs
}

func seedConversation(t *testing.T, s *store.Store) *store.Conversation {
	t.Helper()
	c, err := s.CreateConversation(context.Background(), &store.Conversation{Folder: "/work"})
	require.NoError(t, err)
	return c
}

func TestRunDailyBelowThresholdReturnsNil(t *testing.T) {
	eng, s, fs := newTestEngine(t)
	c := seedConversation(t, s)
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
		{Role: store.RoleUser, Content: "hi", Timestamp: day.Add(time.Hour)},
		{Role: store.RoleAssistant, Content: "hello", Timestamp: day.Add(2 * time.Hour)},
	})
	require.NoError(t, err)

	sum, err := eng.RunDaily(context.Background(), c.ID, day)
	require.NoError(t, err)
	require.Nil(t, sum)
	require.Equal(t, 0, fs.calls)
}

func TestRunDailyAboveThresholdSummarizesAndIndexes(t *testing.T) {
	eng, s, fs := newTestEngine(t)
	c := seedConversation(t, s)
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
		{Role: store.RoleUser, Content: "one", Timestamp: day.Add(time.Hour)},
		{Role: store.RoleAssistant, Content: "two", Timestamp: day.Add(2 * time.Hour)},
		{Role: store.RoleUser, Content: "three", Timestamp: day.Add(3 * time.Hour)},
	})
	require.NoError(t, err)

	sum, err := eng.RunDaily(context.Background(), c.ID, day)
	require.NoError(t, err)
	require.NotNil(t, sum)
	require.Equal(t, store.LevelDaily, sum.Level)
	require.Equal(t, 1, fs.calls)

	stored, err := s.ListSummaries(context.Background(), c.ID, store.LevelDaily)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, sum.SummaryText, stored[0].SummaryText)
}

func TestRunDailyIsIdempotentOnRerun(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	c := seedConversation(t, s)
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
		{Role: store.RoleUser, Content: "one", Timestamp: day.Add(time.Hour)},
		{Role: store.RoleAssistant, Content: "two", Timestamp: day.Add(2 * time.Hour)},
		{Role: store.RoleUser, Content: "three", Timestamp: day.Add(3 * time.Hour)},
	})
	require.NoError(t, err)

	_, err = eng.RunDaily(context.Background(), c.ID, day)
	require.NoError(t, err)
	_, err = eng.RunDaily(context.Background(), c.ID, day)
	require.NoError(t, err)

	stored, err := s.ListSummaries(context.Background(), c.ID, store.LevelDaily)
	require.NoError(t, err)
	require.Len(t, stored, 1, "rerunning a rollup for the same range must overwrite in place, not duplicate")
}

func TestRunWeeklyFallsBackToRawMessagesWhenNoDailies(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	c := seedConversation(t, s)
	monday := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC) // a Monday

	_, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
		{Role: store.RoleUser, Content: "midweek note", Timestamp: monday.Add(30 * time.Hour)},
	})
	require.NoError(t, err)

	sum, err := eng.RunWeekly(context.Background(), c.ID, monday)
	require.NoError(t, err)
	require.NotNil(t, sum)
	require.Equal(t, store.LevelWeekly, sum.Level)
	require.Contains(t, sum.SummaryText, "midweek note")
}

func TestRunWeeklyCompressesDailiesWhenEnough(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	c := seedConversation(t, s)
	monday := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		day := monday.AddDate(0, 0, i)
		_, err := s.AppendMessages(context.Background(), c.ID, []*store.Message{
			{Role: store.RoleUser, Content: "a", Timestamp: day.Add(time.Hour)},
			{Role: store.RoleAssistant, Content: "b", Timestamp: day.Add(2 * time.Hour)},
			{Role: store.RoleUser, Content: "c", Timestamp: day.Add(3 * time.Hour)},
		})
		require.NoError(t, err)
		_, err = eng.RunDaily(context.Background(), c.ID, day)
		require.NoError(t, err)
	}

	sum, err := eng.RunWeekly(context.Background(), c.ID, monday)
	require.NoError(t, err)
	require.NotNil(t, sum)
	require.Contains(t, sum.SummaryText, "summary of daily")
}

func TestRunMonthlyReturnsNilWhenNothingInRange(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	c := seedConversation(t, s)

	sum, err := eng.RunMonthly(context.Background(), c.ID, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Nil(t, sum)
}

func TestEstimateTokenCount(t *testing.T) {
	require.Equal(t, 0, estimateTokenCount(""))
	require.Equal(t, 1, estimateTokenCount("abcd"))
	require.Equal(t, 2, estimateTokenCount("abcde"))
}

func TestMondayOfNormalizesToStartOfWeek(t *testing.T) {
	wed := time.Date(2026, 7, 8, 13, 30, 0, 0, time.UTC)
	got := mondayOf(wed)
	require.Equal(t, time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC), got)
	require.Equal(t, time.Monday, got.Weekday())
}

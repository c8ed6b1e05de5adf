package assembler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sekha-ai/sekha/pkg/store"
)

func candidate(id, convID, content string, age time.Duration, sem, bm25 float64, importance int, pinned, pref bool) Candidate {
	return Candidate{
		Message: &store.Message{
			ID:             id,
			ConversationID: convID,
			Content:        content,
			Timestamp:      time.Now().UTC().Add(-age),
			CreatedAt:      time.Now().UTC().Add(-age),
		},
		Semantic:      sem,
		BM25:          bm25,
		Importance:    importance,
		Pinned:        pinned,
		PreferenceHit: pref,
	}
}

func TestAssembleRespectsTokenBudget(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	long := strings.Repeat("word ", 500)
	cands := []Candidate{
		candidate("m1", "c1", long, 0, 0.9, 0.5, 5, false, false),
		candidate("m2", "c2", long, time.Hour, 0.8, 0.4, 5, false, false),
		candidate("m3", "c3", long, 2*time.Hour, 0.7, 0.3, 5, false, false),
	}
	out := a.Assemble(context.Background(), cands, 100)
	require.LessOrEqual(t, out.TokensUsed, 100)
}

func TestAssemblePinnedOutranksHigherSemantic(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	cands := []Candidate{
		candidate("m1", "c1", "a short note about weather", 0, 0.95, 0.2, 5, false, false),
		candidate("m2", "c2", "a pinned reminder about onboarding", 24 * time.Hour, 0.1, 0.1, 5, true, false),
	}
	out := a.Assemble(context.Background(), cands, 10000)
	require.Len(t, out.Messages, 2)
	require.Equal(t, "m2", out.Messages[0].ID, "pinned candidate should win despite lower semantic score")
}

func TestAssembleDropsNearDuplicates(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	text := "the quarterly roadmap review covers five major initiatives this cycle"
	cands := []Candidate{
		candidate("m1", "c1", text, 0, 0.9, 0.5, 5, false, false),
		candidate("m2", "c1", text, time.Minute, 0.1, 0.1, 5, false, false),
	}
	out := a.Assemble(context.Background(), cands, 10000)
	require.Equal(t, 1, out.Dropped)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "m1", out.Messages[0].ID, "higher-scored survivor should be kept")
}

func TestAssembleWithOptionsOverridesHalfLife(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	cands := []Candidate{
		candidate("m1", "c1", "recent message", 0, 0.5, 0.5, 5, false, false),
		candidate("m2", "c2", "stale message", 90*24*time.Hour, 0.5, 0.5, 5, false, false),
	}
	// A very long half-life should shrink the recency gap between a fresh
	// and a 90-day-old message relative to the default.
	shortHalfLife := a.AssembleWithOptions(context.Background(), append([]Candidate{}, cands...), 10000, Options{RecencyHalfLifeDays: 1})
	longHalfLife := a.AssembleWithOptions(context.Background(), append([]Candidate{}, cands...), 10000, Options{RecencyHalfLifeDays: 3650})
	require.Equal(t, "m1", shortHalfLife.Messages[0].ID)
	require.Equal(t, "m1", longHalfLife.Messages[0].ID)
}

func TestEstimateTokensIsCharsOverFour(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	require.Equal(t, 3, a.estimateTokens("abcdefghij")) // ceil(10/4) = 3
	require.Equal(t, 1, a.estimateTokens(""))
}

func TestTerminationOnExhaustedBudget(t *testing.T) {
	a := New(DefaultWeights, DefaultBudget)
	cands := []Candidate{
		candidate("m1", "c1", strings.Repeat("x", 400), 0, 0.9, 0.5, 5, false, false),
	}
	out := a.Assemble(context.Background(), cands, 10)
	require.Empty(t, out.Messages)
	require.Equal(t, 1, out.TruncatedPool)
}

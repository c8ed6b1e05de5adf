// Package assembler implements the Context Assembler (spec.md §4.9): it
// takes a candidate pool from retrieval, scores every candidate on multiple
// factors, drops near-duplicates, and greedily packs the survivors into a
// token budget with a contiguity bonus for messages from a conversation that
// already has a packed message.
package assembler

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sekha-ai/sekha/pkg/retrieval"
	"github.com/sekha-ai/sekha/pkg/store"
)

// Weights configures the multi-factor scoring function (spec.md §4.9):
//
//	score = w_sem*semantic + w_bm25*bm25 + w_rec*recency + w_imp*importance + w_pref*preference
//
// plus an additive PinnedBonus when the owning conversation is pinned.
type Weights struct {
	Semantic    float64
	BM25        float64
	Recency     float64
	Importance  float64
	Preference  float64
	PinnedBonus float64
}

// DefaultWeights matches spec.md §4.9's stated defaults: retrieval relevance
// dominates, with recency and importance as tie-breaking signals.
var DefaultWeights = Weights{Semantic: 0.45, BM25: 0.15, Recency: 0.20, Importance: 0.15, Preference: 0.05, PinnedBonus: 2.0}

// Candidate is one scored message plus the context needed to score and pack it.
type Candidate struct {
	Message       *store.Message
	Semantic      float64
	BM25          float64
	Importance    int
	Pinned        bool
	PreferenceHit bool
	score         float64
}

// Budget configures the greedy packer.
type Budget struct {
	MaxTokens       int
	CharsPerToken   float64 // token-cost estimate is ceil(chars/CharsPerToken) unless the caller supplies an estimator, default 4 (spec.md §4.9)
	ContiguityBonus float64 // multiplicative bonus for a message whose conversation already has a packed message, default 0.10
	DedupeThreshold float64 // Jaccard shingle similarity at/above which a candidate is dropped as a near-duplicate, default 0.9
	ShingleSize     int     // default 5 words
}

// DefaultBudget matches spec.md §4.9's defaults.
var DefaultBudget = Budget{CharsPerToken: 4, ContiguityBonus: 0.10, DedupeThreshold: 0.9, ShingleSize: 5}

// Options carries the per-request tuning knobs spec.md §4.9 lists alongside
// query/token_budget: recency_half_life_days and pinned_weight. Zero values
// fall back to the spec's defaults (30 days, 2.0).
type Options struct {
	RecencyHalfLifeDays float64
	PinnedWeight        float64
	// Estimator overrides the default ceil(chars/CharsPerToken) token-cost
	// estimate when the caller supplies one (spec.md §4.9).
	Estimator func(content string) int
}

func (o Options) halfLife() float64 {
	if o.RecencyHalfLifeDays > 0 {
		return o.RecencyHalfLifeDays
	}
	return 30
}

// Assembled is the packed context ready to hand to a downstream model.
type Assembled struct {
	Messages      []*store.Message
	TokensUsed    int
	Dropped       int // candidates dropped as near-duplicates
	TruncatedPool int // candidates that never made it into the budget
}

// Assembler scores and packs retrieval candidates into a token-bounded context.
type Assembler struct {
	weights Weights
	budget  Budget
}

// New builds an Assembler.
func New(weights Weights, budget Budget) *Assembler {
	if budget.CharsPerToken <= 0 {
		budget.CharsPerToken = DefaultBudget.CharsPerToken
	}
	if budget.ContiguityBonus <= 0 {
		budget.ContiguityBonus = DefaultBudget.ContiguityBonus
	}
	if budget.DedupeThreshold <= 0 {
		budget.DedupeThreshold = DefaultBudget.DedupeThreshold
	}
	if budget.ShingleSize <= 0 {
		budget.ShingleSize = DefaultBudget.ShingleSize
	}
	return &Assembler{weights: weights, budget: budget}
}

// Assemble scores, dedupes, and greedily packs candidates in score order,
// applying a contiguity bonus to a candidate whose conversation already has
// a selected message. Whether the two messages are adjacent in that
// conversation is not checked.
func (a *Assembler) Assemble(ctx context.Context, candidates []Candidate, maxTokens int) Assembled {
	return a.AssembleWithOptions(ctx, candidates, maxTokens, Options{})
}

// AssembleWithOptions is Assemble with the per-request recency_half_life_days
// and pinned_weight overrides spec.md §4.9 lists as Context Assembler inputs.
func (a *Assembler) AssembleWithOptions(_ context.Context, candidates []Candidate, maxTokens int, opts Options) Assembled {
	now := time.Now().UTC()
	weights := a.weights
	if opts.PinnedWeight > 0 {
		weights.PinnedBonus = opts.PinnedWeight
	}
	halfLife := opts.halfLife()
	estimator := opts.Estimator
	if estimator == nil {
		estimator = func(content string) int { return a.estimateTokens(content) }
	}
	for i := range candidates {
		candidates[i].score = score(weights, candidates[i], now, halfLife)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].Message.CreatedAt.Equal(candidates[j].Message.CreatedAt) {
			return candidates[i].Message.CreatedAt.After(candidates[j].Message.CreatedAt)
		}
		return candidates[i].Message.ID < candidates[j].Message.ID
	})

	survivors := a.dedupe(candidates)
	dropped := len(candidates) - len(survivors)

	packed := make([]*store.Message, 0, len(survivors))
	adjacent := map[string]bool{} // conversation IDs that already have a packed message
	used := 0
	truncated := 0

	for _, c := range survivors {
		tokens := estimator(c.Message.Content)
		bonus := 1.0
		if adjacent[c.Message.ConversationID] {
			bonus = 1 + a.budget.ContiguityBonus
		}
		effectiveTokens := int(float64(tokens) / bonus)
		if used+effectiveTokens > maxTokens {
			truncated++
			continue
		}
		packed = append(packed, c.Message)
		used += tokens
		adjacent[c.Message.ConversationID] = true
	}

	return Assembled{Messages: packed, TokensUsed: used, Dropped: dropped, TruncatedPool: truncated}
}

func score(w Weights, c Candidate, now time.Time, halfLifeDays float64) float64 {
	recency := recencyScore(c.Message.Timestamp, now, halfLifeDays)
	importance := float64(c.Importance) / 10.0
	preference := 0.0
	if c.PreferenceHit {
		preference = 1.0
	}
	s := w.Semantic*c.Semantic + w.BM25*c.BM25 + w.Recency*recency + w.Importance*importance + w.Preference*preference
	if c.Pinned {
		s += w.PinnedBonus
	}
	return s
}

// recencyScore decays exponentially with the caller's half-life, the same
// "recent wins, but gracefully" shape spec.md §4.9 describes for the
// recency factor: recency(m) = 2^(-age_days(m)/half_life).
func recencyScore(t time.Time, now time.Time, halfLifeDays float64) float64 {
	days := now.Sub(t).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return math.Pow(2, -days/halfLifeDays)
}

// dedupe drops any later candidate whose content shingles overlap an
// earlier survivor at or above DedupeThreshold; candidates arrive sorted by
// score, so the higher-scored copy is the one kept. This is a
// Jaccard-similarity near-duplicate check
// over ShingleSize-word windows (spec.md §4.9).
func (a *Assembler) dedupe(candidates []Candidate) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	keptShingles := make([]map[string]struct{}, 0, len(candidates))

	for _, c := range candidates {
		sh := shingles(c.Message.Content, a.budget.ShingleSize)
		isDup := false
		for _, other := range keptShingles {
			if jaccard(sh, other) >= a.budget.DedupeThreshold {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}
		kept = append(kept, c)
		keptShingles = append(keptShingles, sh)
	}
	return kept
}

func shingles(text string, size int) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	out := map[string]struct{}{}
	if len(words) < size {
		out[strings.Join(words, " ")] = struct{}{}
		return out
	}
	for i := 0; i+size <= len(words); i++ {
		out[strings.Join(words[i:i+size], " ")] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// estimateTokens implements spec.md §4.9's default token-cost estimate,
// ceil(chars/CharsPerToken), used unless the caller supplies an Estimator.
func (a *Assembler) estimateTokens(content string) int {
	chars := len([]rune(content))
	n := int(math.Ceil(float64(chars) / a.budget.CharsPerToken))
	if n < 1 {
		n = 1
	}
	return n
}

// RetrievalToCandidate adapts a retrieval.Result into a Candidate.
func RetrievalToCandidate(r retrieval.Result, conv *store.Conversation, preferenceHit bool) Candidate {
	return Candidate{
		Message:       r.Message,
		Semantic:      r.Semantic,
		BM25:          r.BM25,
		Importance:    conv.ImportanceScore,
		Pinned:        conv.Status == store.StatusPinned,
		PreferenceHit: preferenceHit,
	}
}

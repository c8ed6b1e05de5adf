// Package intelligence implements Label/Prune Intelligence (spec.md §4.10):
// label suggestion against the existing-label vocabulary, importance-score
// blending, and advisory prune recommendations.
package intelligence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sekha-ai/sekha/pkg/repository"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarizer"
)

const (
	maxLabelCandidates = 5
	// snapThreshold is the normalized-edit-distance cutoff at or below which a
	// candidate label is snapped to an existing one instead of proposed
	// fresh, encouraging folder/label reuse (spec.md §4.10).
	snapThreshold = 0.2

	importancePinnedBoost  = 2
	importanceRecentBoost  = 1
	importanceStaleDecay   = 1
	recentAccessWindow     = 7 * 24 * time.Hour
	staleAccessThreshold   = 90 * 24 * time.Hour
	defaultPruneThreshold  = 90
	defaultPruneImportance = 3
)

// LabelSuggestion is one ranked candidate returned by SuggestLabels.
type LabelSuggestion struct {
	Label      string
	Confidence float64
	Snapped    bool // true if snapped to an existing label rather than novel
}

// Engine blends the Summarizer Adapter's judgments with heuristics drawn
// from the Relational Store's bookkeeping columns.
type Engine struct {
	store      *store.Store
	summarizer summarizer.Summarizer
}

// Config wires an Engine's dependencies.
type Config struct {
	Store      *store.Store
	Summarizer summarizer.Summarizer
}

// New builds an intelligence Engine.
func New(cfg Config) *Engine {
	return &Engine{store: cfg.Store, summarizer: cfg.Summarizer}
}

// SuggestLabels asks the Summarizer for up to five label candidates given a
// conversation's recent messages, then snaps each candidate within
// snapThreshold normalized edit distance of an existing label to that
// existing label, so folders/labels stay reused rather than fragmenting
// (spec.md §4.10).
func (e *Engine) SuggestLabels(ctx context.Context, conversationID string) ([]LabelSuggestion, error) {
	msgs, err := e.store.GetMessageList(ctx, conversationID, 50, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	inputs := make([]summarizer.Input, len(msgs))
	for i, m := range msgs {
		inputs[i] = summarizer.Input{Role: string(m.Role), Content: m.Content}
	}

	result, err := e.summarizer.Summarize(ctx, "label", inputs)
	if err != nil {
		return nil, fmt.Errorf("intelligence: suggest labels for %s: %w", conversationID, err)
	}

	vocab, err := e.store.DistinctTags(ctx)
	if err != nil {
		return nil, err
	}

	candidates := result.LabelCandidates
	if len(candidates) > maxLabelCandidates {
		candidates = candidates[:maxLabelCandidates]
	}

	out := make([]LabelSuggestion, 0, len(candidates))
	for i, c := range candidates {
		label, snapped := snapToVocabulary(c, vocab)
		confidence := 1.0 - float64(i)*0.1
		if confidence < 0.1 {
			confidence = 0.1
		}
		out = append(out, LabelSuggestion{Label: label, Confidence: confidence, Snapped: snapped})
	}
	return out, nil
}

// snapToVocabulary returns the closest existing label if its normalized
// edit distance to candidate is within snapThreshold, otherwise candidate
// unchanged.
func snapToVocabulary(candidate string, vocab []string) (string, bool) {
	best := ""
	bestDist := 1.0
	for _, v := range vocab {
		d := normalizedEditDistance(strings.ToLower(candidate), strings.ToLower(v))
		if d < bestDist {
			bestDist = d
			best = v
		}
	}
	if best != "" && bestDist <= snapThreshold {
		return best, true
	}
	return candidate, false
}

// normalizedEditDistance returns the Levenshtein distance between a and b
// divided by the length of the longer string, in [0,1]. No pack example
// imports a Levenshtein library, so this is hand-rolled (see DESIGN.md).
func normalizedEditDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 && lb == 0 {
		return 0
	}
	if la == 0 || lb == 0 {
		return 1
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return float64(prev[lb]) / float64(maxLen)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// ScoreImportance asks the Summarizer for a base 1-10 score, then blends in
// the access-pattern heuristics from spec.md §4.10: +2 pinned, +1 if
// referenced within the last 7 days, -1 if untouched for 90 days. The
// result is clamped to [1,10] (I4) and persisted via SetImportance.
func (e *Engine) ScoreImportance(ctx context.Context, conversationID string) (int, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	msgs, err := e.store.GetMessageList(ctx, conversationID, 50, 0)
	if err != nil {
		return 0, err
	}
	base := conv.ImportanceScore
	if len(msgs) > 0 {
		inputs := make([]summarizer.Input, len(msgs))
		for i, m := range msgs {
			inputs[i] = summarizer.Input{Role: string(m.Role), Content: m.Content}
		}
		result, serr := e.summarizer.Summarize(ctx, "importance", inputs)
		if serr != nil {
			return 0, fmt.Errorf("intelligence: score importance for %s: %w", conversationID, serr)
		}
		if result.ImportanceScore > 0 {
			base = result.ImportanceScore
		}
	}

	score := base
	if conv.Status == store.StatusPinned {
		score += importancePinnedBoost
	}
	now := time.Now().UTC()
	if conv.LastReferencedAt != nil {
		age := now.Sub(*conv.LastReferencedAt)
		if age <= recentAccessWindow {
			score += importanceRecentBoost
		} else if age >= staleAccessThreshold {
			score -= importanceStaleDecay
		}
	}
	score = clampImportance(score)

	if err := e.store.SetImportance(ctx, conversationID, score); err != nil {
		return 0, err
	}
	return score, nil
}

func clampImportance(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// PruneCandidate is one advisory prune recommendation.
type PruneCandidate struct {
	ConversationID string
	Label          string
	ImportanceScore int
	LastUpdated    time.Time
}

// PruneDryRun returns advisory prune candidates per spec.md §4.10: active,
// non-pinned conversations with importance_score <= maxImportance that
// haven't been updated in thresholdDays. No deletion occurs here.
func (e *Engine) PruneDryRun(ctx context.Context, thresholdDays, maxImportance int) ([]PruneCandidate, error) {
	if thresholdDays <= 0 {
		thresholdDays = defaultPruneThreshold
	}
	if maxImportance <= 0 {
		maxImportance = defaultPruneImportance
	}
	convs, err := e.store.ListPruneCandidates(ctx, thresholdDays, maxImportance)
	if err != nil {
		return nil, err
	}
	out := make([]PruneCandidate, len(convs))
	for i, c := range convs {
		out[i] = PruneCandidate{ConversationID: c.ID, Label: c.Label, ImportanceScore: c.ImportanceScore, LastUpdated: c.UpdatedAt}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.Before(out[j].LastUpdated) })
	return out, nil
}

// PruneExecute deletes the approved conversation ids via the Repository
// facade (so the Vector Store cascade and dead-letter bookkeeping run the
// same path as any other delete), returning how many succeeded and the
// first error encountered, if any, for ids that failed.
func (e *Engine) PruneExecute(ctx context.Context, repo *repository.Repository, ids []string) (deleted int, err error) {
	for _, id := range ids {
		if derr := repo.DeleteConversation(ctx, id); derr != nil {
			if err == nil {
				err = derr
			}
			continue
		}
		deleted++
	}
	return deleted, err
}

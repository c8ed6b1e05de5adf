// Package summarization implements the Summarization Engine (spec.md §4.9):
// daily/weekly/monthly hierarchical rollups produced by the Summarizer
// Adapter, persisted idempotently on (conversation, level, range), and
// embedded into the Vector Store alongside raw messages so retrieval can mix
// summarized and raw context.
package summarization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sekha-ai/sekha/pkg/embedder"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarizer"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

// minDailyMessages and minLowerLevelSummaries implement spec.md §4.9's
// per-level thresholds: daily rolls up raw messages once there are at least
// three; weekly and monthly need at least two of the level below, falling
// back to the raw transcript for the same range when that threshold isn't met.
const (
	minDailyMessages       = 3
	minLowerLevelSummaries = 2
)

// Engine produces and persists hierarchical summaries.
type Engine struct {
	store      *store.Store
	summarizer summarizer.Summarizer
	embed      embedder.Embedder
	vectors    vectorstore.Store
	logger     sekhalog.Logger
	model      string
}

// Config wires an Engine's dependencies.
type Config struct {
	Store      *store.Store
	Summarizer summarizer.Summarizer
	Embedder   embedder.Embedder
	Vectors    vectorstore.Store
	Model      string
	Logger     sekhalog.Logger
}

// New builds a summarization Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &Engine{store: cfg.Store, summarizer: cfg.Summarizer, embed: cfg.Embedder, vectors: cfg.Vectors, model: cfg.Model, logger: cfg.Logger}
}

// RunDaily summarizes a conversation's messages in [day, day+1). It returns
// (nil, nil) when fewer than minDailyMessages messages fall in the window —
// spec.md §4.9's "daily: ... if count >= 3" guard — rather than an error,
// since "nothing to summarize yet" is an expected, common outcome.
func (e *Engine) RunDaily(ctx context.Context, conversationID string, day time.Time) (*store.HierarchicalSummary, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	msgs, err := e.store.GetMessagesInRange(ctx, conversationID, start, end)
	if err != nil {
		return nil, err
	}
	if len(msgs) < minDailyMessages {
		return nil, nil
	}

	inputs := make([]summarizer.Input, len(msgs))
	for i, m := range msgs {
		inputs[i] = summarizer.Input{Role: string(m.Role), Content: m.Content}
	}
	return e.summarizeAndStore(ctx, conversationID, store.LevelDaily, start, end, inputs)
}

// RunWeekly compresses the daily summaries covering [weekStart, weekStart+7d)
// (weekStart is normalized to the Monday of its week). If fewer than
// minLowerLevelSummaries dailies exist it falls back to summarizing the raw
// transcript for the same week.
func (e *Engine) RunWeekly(ctx context.Context, conversationID string, weekStart time.Time) (*store.HierarchicalSummary, error) {
	start := mondayOf(weekStart)
	end := start.AddDate(0, 0, 7)

	dailies, err := e.summariesInRange(ctx, conversationID, store.LevelDaily, start, end)
	if err != nil {
		return nil, err
	}

	var inputs []summarizer.Input
	if len(dailies) >= minLowerLevelSummaries {
		for _, d := range dailies {
			inputs = append(inputs, summarizer.Input{Content: d.SummaryText})
		}
	} else {
		msgs, err := e.store.GetMessagesInRange(ctx, conversationID, start, end)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, nil
		}
		for _, m := range msgs {
			inputs = append(inputs, summarizer.Input{Role: string(m.Role), Content: m.Content})
		}
	}
	return e.summarizeAndStore(ctx, conversationID, store.LevelWeekly, start, end, inputs)
}

// RunMonthly compresses the weekly summaries covering the calendar month
// containing monthStart, falling back to the raw transcript for the month
// when fewer than minLowerLevelSummaries weeklies exist (the same
// "compress the level below, or raw messages if none" pattern as RunWeekly).
func (e *Engine) RunMonthly(ctx context.Context, conversationID string, monthStart time.Time) (*store.HierarchicalSummary, error) {
	start := time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	weeklies, err := e.summariesInRange(ctx, conversationID, store.LevelWeekly, start, end)
	if err != nil {
		return nil, err
	}

	var inputs []summarizer.Input
	if len(weeklies) >= minLowerLevelSummaries {
		for _, w := range weeklies {
			inputs = append(inputs, summarizer.Input{Content: w.SummaryText})
		}
	} else {
		msgs, err := e.store.GetMessagesInRange(ctx, conversationID, start, end)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, nil
		}
		for _, m := range msgs {
			inputs = append(inputs, summarizer.Input{Role: string(m.Role), Content: m.Content})
		}
	}
	return e.summarizeAndStore(ctx, conversationID, store.LevelMonthly, start, end, inputs)
}

func (e *Engine) summariesInRange(ctx context.Context, conversationID string, level store.SummaryLevel, start, end time.Time) ([]*store.HierarchicalSummary, error) {
	all, err := e.store.ListSummaries(ctx, conversationID, level)
	if err != nil {
		return nil, err
	}
	var out []*store.HierarchicalSummary
	for _, s := range all {
		if !s.RangeStart.Before(start) && s.RangeEnd.Compare(end) <= 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// summarizeAndStore calls the Summarizer Adapter, persists the result
// idempotently (spec.md §4.9: regeneration overwrites in place), and embeds
// the summary text into the Vector Store so retrieval can surface it
// alongside raw messages, tagged kind=summary.
func (e *Engine) summarizeAndStore(ctx context.Context, conversationID string, level store.SummaryLevel, start, end time.Time, inputs []summarizer.Input) (*store.HierarchicalSummary, error) {
	result, err := e.summarizer.Summarize(ctx, string(level), inputs)
	if err != nil {
		return nil, fmt.Errorf("summarization: %s rollup for %s: %w", level, conversationID, err)
	}

	sum := &store.HierarchicalSummary{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Level:          level,
		SummaryText:    result.Summary,
		RangeStart:     start,
		RangeEnd:       end,
		GeneratedAt:    time.Now().UTC(),
		ModelUsed:      e.model,
		TokenCount:     estimateTokenCount(result.Summary),
	}
	stored, err := e.store.UpsertSummary(ctx, sum)
	if err != nil {
		return nil, err
	}

	if e.embed != nil && e.vectors != nil {
		vec, err := e.embed.Embed(ctx, stored.SummaryText)
		if err != nil {
			e.logger.Warn("failed to embed summary, indexing skipped", "conversation_id", conversationID, "level", level, "error", err)
			return stored, nil
		}
		md := map[string]string{
			"conversation_id": conversationID,
			"kind":            "summary",
			"level":           string(level),
		}
		if err := e.vectors.Upsert(ctx, stored.ID, vec, md); err != nil {
			e.logger.Warn("failed to index summary vector", "conversation_id", conversationID, "level", level, "error", err)
		}
	}
	return stored, nil
}

// RunNightlyRollup walks every conversation and produces yesterday's daily
// summary, last week's weekly summary (run only on Mondays, once the week is
// closed), and last month's monthly summary (run only on the 1st), matching
// the "daily/weekly/monthly rollups" cadence named in spec.md §4.9 and
// promoted to a scheduled job in SPEC_FULL.md §3.13.
func (e *Engine) RunNightlyRollup(ctx context.Context, now time.Time) (daily, weekly, monthly int, err error) {
	now = now.UTC()
	yesterday := now.AddDate(0, 0, -1)
	lastWeekStart := mondayOf(now).AddDate(0, 0, -7)
	lastMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)

	runWeekly := now.Weekday() == time.Monday
	runMonthly := now.Day() == 1

	const pageSize = 100
	offset := 0
	for {
		convs, lerr := e.store.ListConversations(ctx, "", true, "", "", pageSize, offset)
		if lerr != nil {
			return daily, weekly, monthly, lerr
		}
		if len(convs) == 0 {
			break
		}

		for _, c := range convs {
			if sum, derr := e.RunDaily(ctx, c.ID, yesterday); derr != nil {
				e.logger.Warn("daily rollup failed", "conversation_id", c.ID, "error", derr)
			} else if sum != nil {
				daily++
			}

			if runWeekly {
				if sum, werr := e.RunWeekly(ctx, c.ID, lastWeekStart); werr != nil {
					e.logger.Warn("weekly rollup failed", "conversation_id", c.ID, "error", werr)
				} else if sum != nil {
					weekly++
				}
			}

			if runMonthly {
				if sum, merr := e.RunMonthly(ctx, c.ID, lastMonthStart); merr != nil {
					e.logger.Warn("monthly rollup failed", "conversation_id", c.ID, "error", merr)
				} else if sum != nil {
					monthly++
				}
			}
		}

		if len(convs) < pageSize {
			break
		}
		offset += pageSize
	}
	return daily, weekly, monthly, nil
}

func mondayOf(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	offset := (int(t.Weekday()) + 6) % 7 // days since Monday
	return t.AddDate(0, 0, -offset)
}

// estimateTokenCount uses the Context Assembler's ceil(chars/4) formula, but
// counts bytes rather than runes and returns 0 (not 1) for empty text
// (spec.md §4.9: "token_count measured post-hoc").
func estimateTokenCount(text string) int {
	return int(math.Ceil(float64(len(text)) / 4.0))
}

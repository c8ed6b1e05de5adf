// Package retrieval implements the three search modes over stored memory
// (spec.md §4.8): pure semantic (vector-store nearest neighbors), pure
// full-text (FTS5/BM25), and a hybrid blend of the two run concurrently via
// golang.org/x/sync/errgroup, the same fan-out-then-merge shape the rest of
// the retrieval pack uses for independent upstream calls.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/embedder"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

// Filters narrows any search mode (spec.md §4.7: "folder (prefix), label
// (exact), status, role, created_at range, importance_score range").
type Filters struct {
	Folder        string
	Label         string
	Status        store.Status
	Role          store.Role
	ImportanceMin int
	ImportanceMax int
	CreatedAtFrom time.Time
	CreatedAtTo   time.Time
}

// Result is one ranked message, carrying whichever sub-scores contributed.
type Result struct {
	Message  *store.Message
	Semantic float64
	BM25     float64
	Score    float64
}

// Engine runs retrieval queries against the Relational Store and Vector Store.
type Engine struct {
	store   *store.Store
	vectors vectorstore.Store
	embed   embedder.Embedder
	logger  sekhalog.Logger
	alpha   float64 // hybrid weight: score = alpha*semantic + (1-alpha)*bm25, default 0.7
}

// Config wires an Engine's dependencies.
type Config struct {
	Store    *store.Store
	Vectors  vectorstore.Store
	Embedder embedder.Embedder
	Alpha    float64
	Logger   sekhalog.Logger
}

const maxLimit = 100

// New builds a retrieval Engine.
func New(cfg Config) *Engine {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &Engine{store: cfg.Store, vectors: cfg.Vectors, embed: cfg.Embedder, alpha: cfg.Alpha, logger: cfg.Logger}
}

// SemanticSearch embeds query and asks the vector store for nearest
// neighbors, hydrating hits back to full Message rows. If the vector store
// is unavailable, it falls back to full-text search and reports degraded=true.
func (e *Engine) SemanticSearch(ctx context.Context, query string, filters Filters, limit int) ([]Result, bool, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	vec, err := e.embed.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("embedder unavailable, falling back to full-text search", "error", err)
		results, ferr := e.fullTextAsResults(ctx, query, filters, limit)
		return results, true, ferr
	}

	hits, err := e.vectors.Query(ctx, vec, limit, vectorstoreFilter(filters))
	if err != nil {
		e.logger.Warn("vector store unavailable, falling back to full-text search", "error", err)
		results, ferr := e.fullTextAsResults(ctx, query, filters, limit)
		return results, true, ferr
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[h.ID] = h.Score
	}
	msgs, err := e.store.GetMessagesByID(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	convs, err := e.hydrateConversations(ctx, msgs)
	if err != nil {
		return nil, false, err
	}
	results := make([]Result, 0, len(msgs))
	for _, m := range msgs {
		if !matchesFilters(m, convs[m.ConversationID], filters) {
			continue
		}
		results = append(results, Result{Message: m, Semantic: scores[m.ID], Score: scores[m.ID]})
	}
	sortResults(results)
	return results, false, nil
}

// hydrateConversations loads (and caches by ID) the owning Conversation of
// each message, so filters on conversation-level attributes — folder,
// label, status, importance_score — can be applied alongside the
// message-level ones (role, created_at).
func (e *Engine) hydrateConversations(ctx context.Context, msgs []*store.Message) (map[string]*store.Conversation, error) {
	convs := make(map[string]*store.Conversation, len(msgs))
	for _, m := range msgs {
		if _, ok := convs[m.ConversationID]; ok {
			continue
		}
		c, err := e.store.GetConversation(ctx, m.ConversationID)
		if err != nil {
			return nil, err
		}
		convs[m.ConversationID] = c
	}
	return convs, nil
}

// FullTextSearch runs a BM25-ranked FTS5 query, normalizing bm25() (which is
// negative-is-better and unbounded) into a [0,1] score where higher is better.
func (e *Engine) FullTextSearch(ctx context.Context, query string, filters Filters, limit int) ([]Result, error) {
	return e.fullTextAsResults(ctx, query, filters, limit)
}

func (e *Engine) fullTextAsResults(ctx context.Context, query string, filters Filters, limit int) ([]Result, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	hits, err := e.store.SearchFullText(ctx, query, ftsFilters(filters), limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Message: h.Message, BM25: normalizeBM25(h.BM25), Score: normalizeBM25(h.BM25)})
	}
	return results, nil
}

// ftsFilters maps the shared retrieval Filters onto the SQL-level filters
// SearchFullText applies via its conversations join.
func ftsFilters(f Filters) store.FTSFilters {
	return store.FTSFilters{
		Folder:        f.Folder,
		Label:         f.Label,
		Status:        f.Status,
		Role:          f.Role,
		ImportanceMin: f.ImportanceMin,
		ImportanceMax: f.ImportanceMax,
		CreatedAtFrom: f.CreatedAtFrom,
		CreatedAtTo:   f.CreatedAtTo,
	}
}

// HybridSearch runs semantic and full-text search concurrently and merges
// them by a weighted sum, deduplicating on message ID.
func (e *Engine) HybridSearch(ctx context.Context, query string, filters Filters, limit int) ([]Result, bool, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	var semantic []Result
	var fulltext []Result
	var degraded bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, deg, err := e.SemanticSearch(gctx, query, filters, limit)
		semantic, degraded = res, deg
		return err
	})
	g.Go(func() error {
		res, err := e.FullTextSearch(gctx, query, filters, limit)
		fulltext = res
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, sekherr.New(sekherr.KindDependency, "retrieval.hybrid_search", err)
	}

	merged := map[string]*Result{}
	for _, r := range semantic {
		cp := r
		merged[r.Message.ID] = &cp
	}
	for _, r := range fulltext {
		if existing, ok := merged[r.Message.ID]; ok {
			existing.BM25 = r.BM25
		} else {
			cp := r
			merged[r.Message.ID] = &cp
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		r.Score = e.alpha*r.Semantic + (1-e.alpha)*r.BM25
		out = append(out, *r)
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, degraded, nil
}

// PreferredPool returns the first perConversationLimit messages (oldest
// first) of every pinned conversation
// plus every conversation matching a preferred label or folder, so the
// Context Assembler's candidate pool always includes them (spec.md §4.9:
// "Always union pinned conversations and any messages whose ... matches
// preferred_labels/preferred_folders") even when hybrid retrieval didn't
// surface them on relevance alone. Sub-scores are left zero; the Assembler's
// PinnedBonus/Preference weight carries these candidates.
func (e *Engine) PreferredPool(ctx context.Context, labels, folders []string, perConversationLimit int) ([]Result, error) {
	if perConversationLimit <= 0 {
		perConversationLimit = 20
	}
	seenConv := map[string]bool{}
	var conversations []*store.Conversation

	pinned, err := e.store.ListConversations(ctx, "", true, "", store.StatusPinned, maxLimit, 0)
	if err != nil {
		return nil, err
	}
	conversations = append(conversations, pinned...)

	for _, label := range labels {
		matches, err := e.store.ListConversations(ctx, "", true, label, "", maxLimit, 0)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, matches...)
	}
	for _, folder := range folders {
		matches, err := e.store.ListConversations(ctx, folder, true, "", "", maxLimit, 0)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, matches...)
	}

	var results []Result
	for _, conv := range conversations {
		if seenConv[conv.ID] {
			continue
		}
		seenConv[conv.ID] = true
		msgs, err := e.store.GetMessageList(ctx, conv.ID, perConversationLimit, 0)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			results = append(results, Result{Message: m})
		}
	}
	return results, nil
}

// matchesFilters applies every predicate in spec.md §4.7 against a
// candidate message and its owning conversation: role and created_at range
// are message-level, folder/label/status/importance_score are
// conversation-level. conv may be nil only when the caller has no filters
// that need it.
func matchesFilters(m *store.Message, conv *store.Conversation, f Filters) bool {
	if f.Role != "" && m.Role != f.Role {
		return false
	}
	if !f.CreatedAtFrom.IsZero() && m.Timestamp.Before(f.CreatedAtFrom) {
		return false
	}
	if !f.CreatedAtTo.IsZero() && !m.Timestamp.Before(f.CreatedAtTo) {
		return false
	}
	if f.Folder == "" && f.Label == "" && f.Status == "" && f.ImportanceMin == 0 && f.ImportanceMax == 0 {
		return true
	}
	if conv == nil {
		return false
	}
	if f.Folder != "" && conv.Folder != f.Folder && !strings.HasPrefix(conv.Folder, f.Folder+"/") {
		return false
	}
	if f.Label != "" && conv.Label != f.Label {
		return false
	}
	if f.Status != "" && conv.Status != f.Status {
		return false
	}
	if f.ImportanceMin > 0 && conv.ImportanceScore < f.ImportanceMin {
		return false
	}
	if f.ImportanceMax > 0 && conv.ImportanceScore > f.ImportanceMax {
		return false
	}
	return true
}

// vectorstoreFilter narrows the vector-store query itself to the exact-match
// fields its Filter type supports (spec.md §3's denormalized vector
// metadata carries these). Folder prefix matching and importance/created_at
// ranges can't be expressed as exact-match equality, so those stay
// enforced post-hydration in matchesFilters — this is a pre-filter, not the
// sole enforcement point.
func vectorstoreFilter(f Filters) vectorstore.Filter {
	vf := vectorstore.Filter{}
	if f.Role != "" {
		vf["role"] = string(f.Role)
	}
	if f.Label != "" {
		vf["label"] = f.Label
	}
	return vf
}

// normalizeBM25 maps SQLite FTS5's bm25() (typically in [-20, 0], more
// negative is better) onto [0, 1] with higher meaning a better match.
func normalizeBM25(raw float64) float64 {
	const floor = -20.0
	if raw < floor {
		raw = floor
	}
	if raw > 0 {
		raw = 0
	}
	return raw / floor
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Message.CreatedAt.Equal(results[j].Message.CreatedAt) {
			return results[i].Message.CreatedAt.After(results[j].Message.CreatedAt)
		}
		return results[i].Message.ID < results[j].Message.ID
	})
}

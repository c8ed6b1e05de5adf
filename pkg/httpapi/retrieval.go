package httpapi

import (
	"net/http"
	"time"

	"github.com/sekha-ai/sekha/pkg/assembler"
	"github.com/sekha-ai/sekha/pkg/retrieval"
	"github.com/sekha-ai/sekha/pkg/store"
)

func (s *Server) registerRetrievalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("POST /api/v1/search/fts", s.handleSearchFTS)
	mux.HandleFunc("POST /api/v1/context/assemble", s.handleContextAssemble)
}

// filtersPayload is the wire shape of spec.md §4.7's shared filter set:
// folder (prefix), label (exact), status, role, created_at range,
// importance_score range.
type filtersPayload struct {
	Folder        string       `json:"folder"`
	Label         string       `json:"label"`
	Status        store.Status `json:"status"`
	Role          store.Role   `json:"role"`
	ImportanceMin int          `json:"importance_min"`
	ImportanceMax int          `json:"importance_max"`
	CreatedAtFrom time.Time    `json:"created_at_from"`
	CreatedAtTo   time.Time    `json:"created_at_to"`
}

func (f filtersPayload) toFilters() retrieval.Filters {
	return retrieval.Filters{
		Folder: f.Folder, Label: f.Label, Status: f.Status, Role: f.Role,
		ImportanceMin: f.ImportanceMin, ImportanceMax: f.ImportanceMax,
		CreatedAtFrom: f.CreatedAtFrom, CreatedAtTo: f.CreatedAtTo,
	}
}

type queryRequest struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"` // "semantic" | "fts" | "hybrid" (default)
	Filters filtersPayload `json:"filters"`
	Limit   int            `json:"limit"`
}

type queryResponse struct {
	Results  []resultPayload `json:"results"`
	Degraded bool            `json:"degraded"`
}

type resultPayload struct {
	Message  *store.Message `json:"message"`
	Semantic float64        `json:"semantic"`
	BM25     float64        `json:"bm25"`
	Score    float64        `json:"score"`
}

func toResultPayloads(results []retrieval.Result) []resultPayload {
	out := make([]resultPayload, len(results))
	for i, r := range results {
		out[i] = resultPayload{Message: r.Message, Semantic: r.Semantic, BM25: r.BM25, Score: r.Score}
	}
	return out
}

// retrievalResult is the tool-call surface's alias for resultPayload, kept
// distinct so tools.go doesn't need to import pkg/retrieval directly.
type retrievalResult = resultPayload

// runQuery is shared by the REST /api/v1/query handler and the
// memory_query tool: dispatch on mode, default to hybrid.
func (s *Server) runQuery(r *http.Request, mode, query string, filters filtersPayload, limit int) ([]resultPayload, bool, error) {
	var results []retrieval.Result
	var degraded bool
	var err error
	switch mode {
	case "semantic":
		results, degraded, err = s.deps.Retrieval.SemanticSearch(r.Context(), query, filters.toFilters(), limit)
	case "fts":
		results, err = s.deps.Retrieval.FullTextSearch(r.Context(), query, filters.toFilters(), limit)
	default:
		results, degraded, err = s.deps.Retrieval.HybridSearch(r.Context(), query, filters.toFilters(), limit)
	}
	if err != nil {
		return nil, false, err
	}
	return toResultPayloads(results), degraded, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.query", err)
		return
	}
	results, degraded, err := s.runQuery(r, req.Mode, req.Query, req.Filters, req.Limit)
	if err != nil {
		writeError(w, s.deps.Logger, "http.query", err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results, Degraded: degraded})
}

type ftsRequest struct {
	Query   string         `json:"query"`
	Filters filtersPayload `json:"filters"`
	Limit   int            `json:"limit"`
}

func (s *Server) handleSearchFTS(w http.ResponseWriter, r *http.Request) {
	var req ftsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.search_fts", err)
		return
	}
	results, err := s.deps.Retrieval.FullTextSearch(r.Context(), req.Query, req.Filters.toFilters(), req.Limit)
	if err != nil {
		writeError(w, s.deps.Logger, "http.search_fts", err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: toResultPayloads(results)})
}

type contextAssembleRequest struct {
	Query               string         `json:"query"`
	Filters             filtersPayload `json:"filters"`
	MaxTokens           int            `json:"token_budget"`
	PoolSize            int            `json:"pool_size"`
	PreferredLabels     []string       `json:"preferred_labels"`
	PreferredFolders    []string       `json:"preferred_folders"`
	ExcludeIDs          []string       `json:"exclude_ids"`
	RecencyHalfLifeDays float64        `json:"recency_half_life_days"`
	PinnedWeight        float64        `json:"pinned_weight"`
}

type contextAssembleResponse struct {
	Messages      []*store.Message `json:"messages"`
	TokensUsed    int              `json:"tokens_used"`
	Dropped       int              `json:"dropped"`
	TruncatedPool int              `json:"truncated_pool"`
}

// assembleContext is shared by the REST /api/v1/context/assemble handler
// and the memory_get_context tool: hybrid-retrieve a candidate pool sized
// per spec.md §4.9's k = min(200, budget/50), union in pinned conversations
// and any preferred-label/preferred-folder matches, then score/dedupe/pack
// the result into token_budget via the Context Assembler. Each surfaced
// conversation's last_referenced_at is touched, feeding the importance
// heuristic's recency boost.
func (s *Server) assembleContext(r *http.Request, req contextAssembleRequest) (contextAssembleResponse, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2000
	}
	if req.PoolSize <= 0 {
		req.PoolSize = req.MaxTokens / 50
		if req.PoolSize > 200 {
			req.PoolSize = 200
		}
		if req.PoolSize < 1 {
			req.PoolSize = 1
		}
	}

	results, _, err := s.deps.Retrieval.HybridSearch(r.Context(), req.Query, req.Filters.toFilters(), req.PoolSize)
	if err != nil {
		return contextAssembleResponse{}, err
	}

	exclude := map[string]bool{}
	for _, id := range req.ExcludeIDs {
		exclude[id] = true
	}
	preferredLabels := map[string]bool{}
	for _, l := range req.PreferredLabels {
		preferredLabels[l] = true
	}
	preferredFolders := map[string]bool{}
	for _, f := range req.PreferredFolders {
		preferredFolders[f] = true
	}

	seen := map[string]bool{}
	convCache := map[string]*store.Conversation{}
	candidates := make([]assembler.Candidate, 0, len(results))

	conversationOf := func(convID string) *store.Conversation {
		conv, ok := convCache[convID]
		if ok {
			return conv
		}
		conv, cerr := s.deps.Repository.GetConversation(r.Context(), convID)
		if cerr != nil {
			return nil
		}
		convCache[convID] = conv
		return conv
	}

	addCandidate := func(res retrieval.Result) {
		if exclude[res.Message.ID] || seen[res.Message.ID] {
			return
		}
		conv := conversationOf(res.Message.ConversationID)
		if conv == nil {
			return
		}
		preferenceHit := (req.Filters.Folder != "" && conv.Folder == req.Filters.Folder) ||
			(req.Filters.Label != "" && conv.Label == req.Filters.Label) ||
			preferredLabels[conv.Label] || preferredFolders[conv.Folder]
		seen[res.Message.ID] = true
		candidates = append(candidates, assembler.RetrievalToCandidate(res, conv, preferenceHit))
	}

	for _, res := range results {
		addCandidate(res)
	}

	// Always union pinned conversations and any preferred-label/folder
	// matches into the pool, even if hybrid retrieval didn't surface them.
	extra, err := s.deps.Retrieval.PreferredPool(r.Context(), req.PreferredLabels, req.PreferredFolders, 0)
	if err == nil {
		for _, res := range extra {
			addCandidate(res)
		}
	}

	assembled := s.deps.Assembler.AssembleWithOptions(r.Context(), candidates, req.MaxTokens, assembler.Options{
		RecencyHalfLifeDays: req.RecencyHalfLifeDays,
		PinnedWeight:        req.PinnedWeight,
	})

	for convID := range convCache {
		_ = s.deps.Repository.TouchLastReferenced(r.Context(), convID)
	}

	return contextAssembleResponse{
		Messages: assembled.Messages, TokensUsed: assembled.TokensUsed,
		Dropped: assembled.Dropped, TruncatedPool: assembled.TruncatedPool,
	}, nil
}

func (s *Server) handleContextAssemble(w http.ResponseWriter, r *http.Request) {
	var req contextAssembleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.context_assemble", err)
		return
	}
	resp, err := s.assembleContext(r, req)
	if err != nil {
		writeError(w, s.deps.Logger, "http.context_assemble", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

package httpapi

import (
	"net/http"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
)

// registerToolRoutes wires the tool-call surface (spec.md §6): structured
// JSON over HTTP at /mcp/tools/{tool}, each handler answering in the same
// envelope{success, data|null, error|null} shape regardless of what the
// REST equivalent returns, so a tool-calling model gets one response shape
// to parse across every tool.
func (s *Server) registerToolRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /mcp/tools/memory_store", s.toolMemoryStore)
	mux.HandleFunc("POST /mcp/tools/memory_query", s.toolMemoryQuery)
	mux.HandleFunc("POST /mcp/tools/memory_get_context", s.toolMemoryGetContext)
	mux.HandleFunc("POST /mcp/tools/memory_create_label", s.toolMemoryCreateLabel)
	mux.HandleFunc("POST /mcp/tools/memory_prune_suggest", s.toolMemoryPruneSuggest)
	mux.HandleFunc("POST /mcp/tools/memory_export", s.toolMemoryExport)
	mux.HandleFunc("POST /mcp/tools/memory_stats", s.toolMemoryStats)
}

func toolError(w http.ResponseWriter, logger sekhalog.Logger, op string, err error) {
	status := statusFor(sekherr.KindOf(err))
	if status >= 500 {
		logger.Error("tool call failed", "op", op, "error", err)
	}
	writeEnvelope(w, status, nil, err.Error())
}

type toolMemoryStoreRequest struct {
	Label    string           `json:"label"`
	Folder   string           `json:"folder"`
	Status   store.Status     `json:"status"`
	Messages []messagePayload `json:"messages"`
}

func (s *Server) toolMemoryStore(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_store", err)
		return
	}
	msgs := make([]*store.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = &store.Message{Role: m.Role, Content: m.Content}
	}
	conv, stored, err := s.deps.Repository.StoreConversation(r.Context(), &store.Conversation{
		Label: req.Label, Folder: req.Folder, Status: req.Status,
	}, msgs)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_store", err)
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"conversation": conv, "messages": stored}, "")
}

type toolMemoryQueryRequest struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"`
	Filters filtersPayload `json:"filters"`
	Limit   int            `json:"limit"`
}

func (s *Server) toolMemoryQuery(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_query", err)
		return
	}
	var results []retrievalResult
	var degraded bool
	var err error
	results, degraded, err = s.runQuery(r, req.Mode, req.Query, req.Filters, req.Limit)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_query", err)
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"results": results, "degraded": degraded}, "")
}

type toolMemoryGetContextRequest struct {
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

func (s *Server) toolMemoryGetContext(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryGetContextRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_get_context", err)
		return
	}
	resp, err := s.assembleContext(r, contextAssembleRequest{
		Query: req.Query, Filters: req.Filters, MaxTokens: req.MaxTokens, PoolSize: req.PoolSize,
		PreferredLabels: req.PreferredLabels, PreferredFolders: req.PreferredFolders,
		ExcludeIDs: req.ExcludeIDs, RecencyHalfLifeDays: req.RecencyHalfLifeDays, PinnedWeight: req.PinnedWeight,
	})
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_get_context", err)
		return
	}
	writeEnvelope(w, http.StatusOK, resp, "")
}

type toolMemoryCreateLabelRequest struct {
	ConversationID string `json:"conversation_id"`
	Label          string `json:"label"`
}

func (s *Server) toolMemoryCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryCreateLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_create_label", err)
		return
	}
	if req.ConversationID == "" {
		toolError(w, s.deps.Logger, "tool.memory_create_label", sekherr.Validation("tool.memory_create_label", "conversation_id is required"))
		return
	}
	if req.Label != "" {
		if err := s.deps.Repository.UpdateLabel(r.Context(), req.ConversationID, req.Label); err != nil {
			toolError(w, s.deps.Logger, "tool.memory_create_label", err)
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]string{"conversation_id": req.ConversationID, "label": req.Label}, "")
		return
	}
	suggestions, err := s.deps.Intelligence.SuggestLabels(r.Context(), req.ConversationID)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_create_label", err)
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"suggestions": suggestions}, "")
}

type toolMemoryPruneSuggestRequest struct {
	ThresholdDays int `json:"threshold_days"`
	MaxImportance int `json:"max_importance"`
}

func (s *Server) toolMemoryPruneSuggest(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryPruneSuggestRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_prune_suggest", err)
		return
	}
	candidates, err := s.deps.Intelligence.PruneDryRun(r.Context(), req.ThresholdDays, req.MaxImportance)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_prune_suggest", err)
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"candidates": candidates}, "")
}

type toolMemoryExportRequest struct {
	ConversationID string `json:"conversation_id"`
}

// toolMemoryExport returns a conversation with its messages inline (at most
// the first 1000, oldest first, the cap GetMessageList applies), for callers that want to move a memory out of Sekha entirely
// (spec.md §6's memory_export).
func (s *Server) toolMemoryExport(w http.ResponseWriter, r *http.Request) {
	var req toolMemoryExportRequest
	if err := decodeJSON(r, &req); err != nil {
		toolError(w, s.deps.Logger, "tool.memory_export", err)
		return
	}
	if req.ConversationID == "" {
		toolError(w, s.deps.Logger, "tool.memory_export", sekherr.Validation("tool.memory_export", "conversation_id is required"))
		return
	}
	conv, err := s.deps.Repository.GetConversation(r.Context(), req.ConversationID)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_export", err)
		return
	}
	messages, err := s.deps.Repository.GetMessageList(r.Context(), req.ConversationID, 0, 0)
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_export", err)
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"conversation": conv, "messages": messages}, "")
}

func (s *Server) toolMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Repository.GetStats(r.Context())
	if err != nil {
		toolError(w, s.deps.Logger, "tool.memory_stats", err)
		return
	}
	writeEnvelope(w, http.StatusOK, stats, "")
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/store"
)

func (s *Server) registerIntelligenceRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/summarize", s.handleSummarize)
	mux.HandleFunc("POST /api/v1/labels/suggest", s.handleSuggestLabels)
	mux.HandleFunc("POST /api/v1/prune/dry-run", s.handlePruneDryRun)
	mux.HandleFunc("POST /api/v1/prune/execute", s.handlePruneExecute)
}

type summarizeRequest struct {
	ConversationID string `json:"conversation_id"`
	Level          string `json:"level"` // daily | weekly | monthly
	RangeStart     string `json:"range_start"` // RFC3339; defaults to today/this-week/this-month
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.summarize", err)
		return
	}
	rangeStart := time.Now().UTC()
	if req.RangeStart != "" {
		parsed, err := time.Parse(time.RFC3339, req.RangeStart)
		if err != nil {
			writeError(w, s.deps.Logger, "http.summarize", sekherr.Validation("http.summarize", "invalid range_start: %v", err))
			return
		}
		rangeStart = parsed
	}

	var summary *store.HierarchicalSummary
	var err error
	switch store.SummaryLevel(req.Level) {
	case store.LevelWeekly:
		summary, err = s.deps.Summarization.RunWeekly(r.Context(), req.ConversationID, rangeStart)
	case store.LevelMonthly:
		summary, err = s.deps.Summarization.RunMonthly(r.Context(), req.ConversationID, rangeStart)
	case store.LevelDaily, "":
		summary, err = s.deps.Summarization.RunDaily(r.Context(), req.ConversationID, rangeStart)
	default:
		err = sekherr.Validation("http.summarize", "unknown level %q", req.Level)
	}
	if err != nil {
		writeError(w, s.deps.Logger, "http.summarize", err)
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "insufficient content to summarize"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type suggestLabelsRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleSuggestLabels(w http.ResponseWriter, r *http.Request) {
	var req suggestLabelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.suggest_labels", err)
		return
	}
	suggestions, err := s.deps.Intelligence.SuggestLabels(r.Context(), req.ConversationID)
	if err != nil {
		writeError(w, s.deps.Logger, "http.suggest_labels", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

type pruneDryRunRequest struct {
	ThresholdDays int `json:"threshold_days"`
	MaxImportance int `json:"max_importance"`
}

func (s *Server) handlePruneDryRun(w http.ResponseWriter, r *http.Request) {
	var req pruneDryRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.prune_dry_run", err)
		return
	}
	candidates, err := s.deps.Intelligence.PruneDryRun(r.Context(), req.ThresholdDays, req.MaxImportance)
	if err != nil {
		writeError(w, s.deps.Logger, "http.prune_dry_run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type pruneExecuteRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
}

func (s *Server) handlePruneExecute(w http.ResponseWriter, r *http.Request) {
	var req pruneExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.deps.Logger, "http.prune_execute", err)
		return
	}
	if len(req.ConversationIDs) == 0 {
		writeError(w, s.deps.Logger, "http.prune_execute", sekherr.Validation("http.prune_execute", "conversation_ids must be non-empty"))
		return
	}
	deleted, err := s.deps.Intelligence.PruneExecute(r.Context(), s.deps.Repository, req.ConversationIDs)
	if err != nil {
		s.deps.Logger.Warn("prune execute had partial failures", "error", err)
	}
	status := http.StatusOK
	var errMsg string
	if err != nil {
		errMsg = err.Error()
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"deleted": deleted, "requested": len(req.ConversationIDs), "error": errMsg})
}

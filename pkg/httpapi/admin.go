package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/admin/dead-letters", s.handleListDeadLetters)
	mux.HandleFunc("DELETE /api/v1/admin/dead-letters/{id}", s.handleClearDeadLetter)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Repository.GetStats(r.Context())
	if err != nil {
		writeError(w, s.deps.Logger, "http.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// healthReport is the liveness + per-dependency probe response (spec.md
// §6 "/health": "Liveness + per-dependency probes").
type healthReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	QueueDepth   int               `json:"queue_depth"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := map[string]string{}
	overall := "ok"

	if _, err := s.deps.Store.GetStats(ctx); err != nil {
		deps["database"] = "unreachable: " + err.Error()
		overall = "degraded"
	} else {
		deps["database"] = "ok"
	}

	queueDepth := 0
	if s.deps.Queue != nil {
		queueDepth = s.deps.Queue.Depth()
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthReport{Status: overall, Dependencies: deps, QueueDepth: queueDepth})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, _ := parseLimitOffset(r)
	failed, err := s.deps.Store.ListFailedEmbeddings(r.Context(), limit)
	if err != nil {
		writeError(w, s.deps.Logger, "http.list_dead_letters", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": failed})
}

func (s *Server) handleClearDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.ClearFailedEmbedding(r.Context(), id); err != nil {
		writeError(w, s.deps.Logger, "http.clear_dead_letter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

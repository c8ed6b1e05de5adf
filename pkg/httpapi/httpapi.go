// Package httpapi is the External Interface Layer (spec.md §6): the JSON
// HTTP surface under /api/v1 and /health, /metrics, plus the tool-call
// surface at /mcp/tools/{tool}. Routing follows the teacher pack's own
// shape — stdlib net/http.ServeMux with method-and-path patterns, a single
// Server wrapping *http.Server, and graceful Shutdown — the same idiom
// scttfrdmn-agenkit-go's HTTPAgent and viant-agently's adapter/http server
// use; no pack example reaches for a router library.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/assembler"
	"github.com/sekha-ai/sekha/pkg/intelligence"
	"github.com/sekha-ai/sekha/pkg/metrics"
	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/repository"
	"github.com/sekha-ai/sekha/pkg/retrieval"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarization"
)

// Deps wires every domain component the handlers call through.
type Deps struct {
	Store         *store.Store
	Repository    *repository.Repository
	Retrieval     *retrieval.Engine
	Assembler     *assembler.Assembler
	Summarization *summarization.Engine
	Intelligence  *intelligence.Engine
	Queue         *queue.Queue
	Metrics       *metrics.Registry // nil disables /metrics and per-request instrumentation
	Logger        sekhalog.Logger
}

// Config configures the Server.
type Config struct {
	Addr            string
	APIKey          string // Bearer token required on every non-health route; must be >= 32 chars
	AllowedOrigins  []string
	RateRPS         float64
	RateBurst       int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP surface: conversation CRUD, retrieval, context
// assembly, summarization, label/prune intelligence, stats, health,
// metrics, and the MCP-style tool-call surface.
type Server struct {
	cfg     Config
	deps    Deps
	server  *http.Server
	limiter *rateLimiter
}

// New builds a Server with every route registered. Call Start to listen.
func New(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = sekhalog.NewStd()
	}

	s := &Server{cfg: cfg, deps: deps, limiter: newRateLimiter(cfg.RateRPS, cfg.RateBurst)}

	mux := http.NewServeMux()
	s.registerConversationRoutes(mux)
	s.registerRetrievalRoutes(mux)
	s.registerIntelligenceRoutes(mux)
	s.registerAdminRoutes(mux)
	s.registerToolRoutes(mux)

	handler := s.withMiddleware(mux)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}
	return s
}

// Start begins serving in the background; errors land on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server, then drains the Embedding
// Queue up to ShutdownTimeout (spec.md §4.5's shutdown behavior, SPEC_FULL
// §3.12's caller).
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if s.deps.Queue != nil {
		s.deps.Queue.Stop(shutdownCtx)
	}
	return err
}

// envelope is the tool-call surface's uniform response shape (spec.md §6).
type envelope struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEnvelope(w http.ResponseWriter, status int, data any, errMsg string) {
	env := envelope{Success: errMsg == "", Data: data}
	if errMsg != "" {
		env.Error = &errMsg
	}
	writeJSON(w, status, env)
}

// writeError maps any error to an HTTP status via its sekherr.Kind (spec.md
// §7's "one place decides" policy) and writes a plain {"error": "..."} body
// for the REST surface. The tool-call surface uses writeEnvelope instead.
func writeError(w http.ResponseWriter, logger sekhalog.Logger, op string, err error) {
	status := statusFor(sekherr.KindOf(err))
	if status >= 500 {
		logger.Error("request failed", "op", op, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(k sekherr.Kind) int {
	switch k {
	case sekherr.KindValidation:
		return http.StatusBadRequest
	case sekherr.KindNotFound:
		return http.StatusNotFound
	case sekherr.KindUnauthorized:
		return http.StatusUnauthorized
	case sekherr.KindRateLimited:
		return http.StatusTooManyRequests
	case sekherr.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return sekherr.Validation("httpapi.decode", "invalid request body: %v", err)
	}
	return nil
}

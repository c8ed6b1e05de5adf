package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const minAPIKeyLength = 32

// withMiddleware wraps mux with, in order: request logging, CORS, Bearer
// auth (skipping /health), and per-key rate limiting.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	next = s.rateLimitMiddleware(next)
	next = s.authMiddleware(next)
	next = s.corsMiddleware(next)
	next = s.loggingMiddleware(next)
	return next
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		s.deps.Logger.Info("http request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status,
			"duration_ms", elapsed.Milliseconds())

		if s.deps.Metrics != nil {
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			status := strconv.Itoa(sw.status)
			s.deps.Metrics.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
			s.deps.Metrics.RequestDuration.WithLabelValues(route, r.Method, status).Observe(elapsed.Seconds())
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, s.cfg.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// authMiddleware requires a Bearer token matching the configured API key on
// every route except /health, per spec.md §6. An empty configured key
// disables auth entirely (local/dev use).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || len(token) < minAPIKeyLength || token != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-API-key token bucket over golang.org/x/time/rate,
// following the teacher pack's per-key limiter shape (taipm-go-deep-agent's
// tokenBucketLimiter): one rate.Limiter per key, created lazily.
type rateLimiter struct {
	rps   rate.Limit
	burst int
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 20
	}
	return &rateLimiter{rps: rate.Limit(rps), burst: burst, byKey: make(map[string]*rate.Limiter)}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	lim, ok := rl.byKey[key]
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
		rl.byKey[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

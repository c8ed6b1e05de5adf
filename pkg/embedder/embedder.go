// Package embedder adapts the external embedding model service behind one
// interface (spec.md §4.3). The HTTP client and its error taxonomy mirror
// pkg/vectorstore's HTTPStore — both are thin JSON clients over a
// configurable base URL with the same unavailable/rejected split so the
// Embedding Queue's retry policy can treat every plugin dependency
// uniformly.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sekha-ai/sekha/pkg/sekhalog"
)

var (
	// ErrTimeout means the embedder did not respond within the configured
	// deadline — retryable.
	ErrTimeout = errors.New("embedder: request timed out")
	// ErrUnavailable means the embedder could not be reached or returned a
	// 5xx — retryable.
	ErrUnavailable = errors.New("embedder: service unavailable")
	// ErrBadInput means the embedder rejected the text (too long, empty,
	// unsupported encoding) — not retryable.
	ErrBadInput = errors.New("embedder: input rejected")
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	// Embed returns the embedding for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector width this embedder produces, probed
	// once at startup (spec.md §4.3: "the engine discovers dimensionality
	// rather than hardcoding it").
	Dimension(ctx context.Context) (int, error)
}

// HTTPEmbedder is the default Embedder, backed by a remote model-serving
// endpoint, with an LRU cache in front so repeated retrieval queries (the
// common case: the same natural-language query re-run across folders)
// don't re-embed identical text.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	logger  sekhalog.Logger

	cacheMu sync.Mutex
	cache   *lruCache

	dimMu  sync.Mutex
	dim    int
	dimSet bool
}

// Config configures an HTTPEmbedder.
type Config struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	CacheSize int // default 4096, per spec.md §4.3's query-embedding cache
	Logger    sekhalog.Logger
}

// New builds an HTTPEmbedder.
func New(cfg Config) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &HTTPEmbedder{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
		cache:   newLRUCache(cfg.CacheSize),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrBadInput
	}

	key := e.model + "\x00" + text
	e.cacheMu.Lock()
	if cached, ok := e.cache.get(key); ok {
		e.cacheMu.Unlock()
		return cached, nil
	}
	e.cacheMu.Unlock()

	payload, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		e.logger.Warn("embed request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ErrUnavailable
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrBadInput, string(b))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}

	e.cacheMu.Lock()
	e.cache.put(key, out.Embedding)
	e.cacheMu.Unlock()

	return out.Embedding, nil
}

func (e *HTTPEmbedder) Dimension(ctx context.Context) (int, error) {
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	if e.dimSet {
		return e.dim, nil
	}
	vec, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	e.dim = len(vec)
	e.dimSet = true
	return e.dim, nil
}

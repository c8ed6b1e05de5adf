package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sekha-ai/sekha/pkg/sekhalog"
)

// HTTPStore is the default Store, a thin JSON client over a remote vector
// database's HTTP surface (spec.md §4.2: "the vector store is an external
// service reachable over HTTP"). The endpoint shapes below are the engine's
// own contract, not any particular vendor's API, so any compatible sidecar
// can sit behind vector_store.url.
type HTTPStore struct {
	baseURL    string
	collection string
	client     *http.Client
	logger     sekhalog.Logger
}

// HTTPStoreConfig configures an HTTPStore.
type HTTPStoreConfig struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
	Logger     sekhalog.Logger
}

// NewHTTPStore builds an HTTPStore.
func NewHTTPStore(cfg HTTPStoreConfig) *HTTPStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &HTTPStore{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

type upsertRequest struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Vector     []float32         `json:"vector"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (h *HTTPStore) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	return h.post(ctx, "/upsert", upsertRequest{Collection: h.collection, ID: id, Vector: vec, Metadata: metadata}, nil)
}

type queryRequest struct {
	Collection string            `json:"collection"`
	Vector     []float32         `json:"vector"`
	TopK       int               `json:"top_k"`
	Filter     map[string]string `json:"filter,omitempty"`
}

type queryResponse struct {
	Hits []struct {
		ID       string            `json:"id"`
		Score    float64           `json:"score"`
		Metadata map[string]string `json:"metadata"`
	} `json:"hits"`
}

func (h *HTTPStore) Query(ctx context.Context, vec []float32, topK int, filter Filter) ([]Hit, error) {
	var resp queryResponse
	if err := h.post(ctx, "/query", queryRequest{Collection: h.collection, Vector: vec, TopK: topK, Filter: map[string]string(filter)}, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Hits))
	for _, r := range resp.Hits {
		hits = append(hits, Hit{ID: r.ID, Score: r.Score, Metadata: r.Metadata})
	}
	return hits, nil
}

type deleteRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
}

func (h *HTTPStore) Delete(ctx context.Context, id string) error {
	return h.post(ctx, "/delete", deleteRequest{Collection: h.collection, ID: id}, nil)
}

type deleteWhereRequest struct {
	Collection string            `json:"collection"`
	Filter     map[string]string `json:"filter"`
}

func (h *HTTPStore) DeleteWhere(ctx context.Context, filter Filter) error {
	return h.post(ctx, "/delete_where", deleteWhereRequest{Collection: h.collection, Filter: map[string]string(filter)}, nil)
}

func (h *HTTPStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return ErrUnavailable
	}
	return nil
}

func (h *HTTPStore) Close() error { return nil }

func (h *HTTPStore) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vectorstore: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("vector store request failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ErrUnavailable
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("vectorstore: decode response: %w", err)
	}
	return nil
}

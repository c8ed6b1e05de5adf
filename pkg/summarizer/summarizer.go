// Package summarizer adapts the external summarization model service
// (spec.md §4.4): given a batch of messages or lower-level summaries, it
// returns prose, candidate labels, and an importance judgment. Its HTTP
// client follows the same shape as pkg/embedder's.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sekha-ai/sekha/pkg/sekhalog"
)

var (
	// ErrUnavailable means the summarizer could not be reached or returned a
	// 5xx — a retryable failure. The Summarization Engine does not retry it:
	// the failed rollup is returned as an error (and logged by the nightly run).
	ErrUnavailable = errors.New("summarizer: service unavailable")
	// ErrBadOutput means the summarizer responded but its payload failed to
	// validate (empty summary text, out-of-range importance) — not retryable.
	ErrBadOutput = errors.New("summarizer: invalid output")
)

// Input is one unit of content to summarize: a message transcript excerpt
// or, for weekly/monthly rollups, a set of lower-level summaries.
type Input struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Result is the summarizer's structured judgment for one request
// (spec.md §4.9, §4.10).
type Result struct {
	Summary          string   `json:"summary"`
	LabelCandidates  []string `json:"label_candidates"`
	ImportanceScore  int      `json:"importance_score"`
	ImportanceReason string   `json:"importance_reason"`
}

// Summarizer produces a Result from a batch of Input.
type Summarizer interface {
	Summarize(ctx context.Context, level string, inputs []Input) (*Result, error)
}

// HTTPSummarizer is the default Summarizer, a JSON client over a remote
// summarization endpoint.
type HTTPSummarizer struct {
	baseURL string
	model   string
	client  *http.Client
	logger  sekhalog.Logger
}

// Config configures an HTTPSummarizer.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  sekhalog.Logger
}

// New builds an HTTPSummarizer.
func New(cfg Config) *HTTPSummarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &HTTPSummarizer{baseURL: cfg.BaseURL, model: cfg.Model, client: &http.Client{Timeout: cfg.Timeout}, logger: cfg.Logger}
}

type summarizeRequest struct {
	Model  string  `json:"model"`
	Level  string  `json:"level"`
	Inputs []Input `json:"inputs"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, level string, inputs []Input) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrBadOutput)
	}

	payload, err := json.Marshal(summarizeRequest{Model: s.model, Level: level, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("summarizer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/summarize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("summarize request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ErrUnavailable
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrBadOutput, string(b))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("summarizer: decode response: %w", err)
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary text", ErrBadOutput)
	}
	if out.ImportanceScore != 0 && (out.ImportanceScore < 1 || out.ImportanceScore > 10) {
		return nil, fmt.Errorf("%w: importance score %d out of range", ErrBadOutput, out.ImportanceScore)
	}
	return &out, nil
}

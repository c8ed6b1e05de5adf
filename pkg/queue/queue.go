// Package queue implements the Embedding Queue (spec.md §4.5): an
// in-memory, bounded work queue that decouples append_messages from the
// (slower, less reliable) embedder and vector-store calls. A fixed pool of
// workers drains it with exponential backoff, and anything that exhausts
// its retry budget lands in the relational store's failed_embeddings
// dead-letter table for the reaper to pick up later.
//
// The worker-pool/backoff shape follows the teacher's token-bucket limiter
// in spirit (bounded concurrency, per-item stats) and viant-agently's
// StartWatchdog ticker-goroutine style for the drain loop.
package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sekha-ai/sekha/pkg/sekhalog"
)

// Job is one embedding task: embed a message's content and upsert the
// result into the vector store.
type Job struct {
	MessageID      string
	ConversationID string
	Content        string
	Attempt        int
	EnqueuedAt     time.Time
}

// Handler performs the actual embed+upsert work for a Job. It returns an
// error to trigger a retry (or dead-letter once attempts are exhausted).
type Handler func(ctx context.Context, job Job) error

// Config tunes the queue.
type Config struct {
	Workers       int           // default 4
	Capacity      int           // bounded channel size, default 10000
	MaxAttempts   int           // default 8
	BaseBackoff   time.Duration // default 200ms
	MaxBackoff    time.Duration // default 30s
	HighWatermark int           // backpressure: at this depth new jobs spill to the dead-letter sink, default 10000
	LowWatermark  int           // backpressure: spilling continues until depth falls to this, default 2000
	Logger        sekhalog.Logger
}

// DeadLetterSink persists a job that exhausted its retry budget.
type DeadLetterSink interface {
	RecordFailedEmbedding(ctx context.Context, messageID, reason string) error
}

// Queue is the Embedding Queue.
type Queue struct {
	cfg     Config
	handler Handler
	sink    DeadLetterSink
	logger  sekhalog.Logger

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu         sync.Mutex
	depth      int
	backOff    bool // set when depth reaches HighWatermark, cleared once it falls to LowWatermark
}

// New constructs a Queue. Start must be called to launch the worker pool.
func New(cfg Config, handler Handler, sink DeadLetterSink) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 10000
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &Queue{
		cfg:     cfg,
		handler: handler,
		sink:    sink,
		logger:  cfg.Logger,
		jobs:    make(chan Job, cfg.Capacity),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (q *Queue) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Enqueue submits a job. Per spec.md §4.5 this is a no-fail operation: it
// always accepts the job. Below the high-watermark (and once backpressure
// has cleared at the low-watermark) it goes onto the in-memory channel for
// a worker to pick up, and Enqueue returns true. Above it — or when the
// channel is momentarily full despite the depth counter — the job instead
// spills straight to the dead-letter table via sink, for the reaper to
// retry later, and Enqueue returns false so callers (Repository, the
// reaper itself) know the job did not join the live worker pool.
func (q *Queue) Enqueue(job Job) bool {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	if q.backOff && q.depth >= q.cfg.LowWatermark {
		q.mu.Unlock()
		q.spill(job, "embedding queue above high watermark")
		return false
	}
	if q.depth >= q.cfg.HighWatermark {
		q.backOff = true
		q.mu.Unlock()
		q.spill(job, "embedding queue above high watermark")
		return false
	}
	q.depth++
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true
	default:
		q.mu.Lock()
		q.depth--
		q.mu.Unlock()
		q.spill(job, "embedding queue channel full")
		return false
	}
}

// spill persists an overflow job to the dead-letter table so the reaper
// can pick it up later; it is how Enqueue stays no-fail under backpressure
// (spec.md §4.5: "bounded in-memory + spill-to-disk").
func (q *Queue) spill(job Job, reason string) {
	if q.sink == nil {
		return
	}
	if err := q.sink.RecordFailedEmbedding(context.Background(), job.MessageID, reason); err != nil {
		q.logger.Error("failed to spill overflow embedding job to dead letter", "message_id", job.MessageID, "error", err)
	}
}

// Depth reports the current in-flight job count, exposed via Prometheus
// gauges and /health.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Stop lets the workers keep emptying the queue until it is empty or ctx
// expires, then cancels the worker goroutines and waits for in-flight jobs
// to finish or the context to expire, implementing the server's graceful-shutdown drain
// (spec.md §4.5: "drains for up to a configured timeout, then the
// remainder is persisted to the dead-letter table"). Anything still
// sitting in the channel once the drain window closes is spilled via sink
// rather than silently dropped.
func (q *Queue) Stop(ctx context.Context) {
	if q.cancel != nil {
		for q.Depth() > 0 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
			}
		}
		q.cancel()
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("queue shutdown deadline exceeded, persisting remaining jobs to dead letter")
	}
	q.drainRemaining()
}

// drainRemaining spills every job still sitting in the channel to the
// dead-letter sink. Called after the worker pool has stopped (or the
// shutdown deadline passed), so nothing left buffered is lost.
func (q *Queue) drainRemaining() {
	for {
		select {
		case job := <-q.jobs:
			q.spill(job, "queue stopped before job could be processed")
			q.mu.Lock()
			q.depth--
			q.mu.Unlock()
		default:
			return
		}
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	defer func() {
		q.mu.Lock()
		q.depth--
		if q.depth <= q.cfg.LowWatermark {
			q.backOff = false
		}
		q.mu.Unlock()
	}()

	for {
		job.Attempt++
		err := q.handler(ctx, job)
		if err == nil {
			return
		}
		if job.Attempt >= q.cfg.MaxAttempts {
			q.logger.Error("embedding job exhausted retries", "message_id", job.MessageID, "attempts", job.Attempt, "error", err)
			if sinkErr := q.sink.RecordFailedEmbedding(context.Background(), job.MessageID, err.Error()); sinkErr != nil {
				q.logger.Error("failed to record dead letter", "message_id", job.MessageID, "error", sinkErr)
			}
			return
		}

		delay := backoff(q.cfg.BaseBackoff, q.cfg.MaxBackoff, job.Attempt)
		select {
		case <-ctx.Done():
			q.spill(job, "queue shutdown during retry backoff")
			return
		case <-time.After(delay):
		}
	}
}

// backoff computes an exponential delay capped at max, with full jitter.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		d = max
	}
	delay := time.Duration(rand.Int63n(int64(d)) + int64(base))
	if delay > max {
		delay = max
	}
	return delay
}

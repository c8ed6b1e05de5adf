// Package scheduler runs the background jobs spec.md §9 calls for in prose
// but leaves unscheduled: the failed_embeddings and pending_vector_deletes
// reapers, and nightly summarization rollups. Each job runs on its own
// ticker and takes an advisory lock from the Relational Store first, so
// only one process (or, within a process, one tick) executes a given job
// at a time. The first tick fires two seconds after Start and the ticker
// drives the rest — the same timer-plus-ticker shape as the teacher's
// StartWatchdog, generalized from one job to several.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sekha-ai/sekha/pkg/metrics"
	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarization"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

const (
	lockEmbeddingReaper = "reaper.failed_embeddings"
	lockVectorReaper    = "reaper.pending_vector_deletes"
	lockSummarization   = "summarization.nightly_rollup"
	lockLeaseDuration   = 2 * time.Minute
	defaultReaperBatch  = 50
)

// Config tunes the Scheduler. Intervals default when zero.
type Config struct {
	Store         *store.Store
	Queue         *queue.Queue
	Vectors       vectorstore.Store
	Summarization *summarization.Engine // nil disables the nightly rollup job
	Metrics       *metrics.Registry     // nil disables gauge/counter updates

	EmbeddingReaperInterval time.Duration // default 5 minutes
	VectorReaperInterval    time.Duration // default 5 minutes
	SummarizationInterval   time.Duration // default 24 hours

	Logger sekhalog.Logger
}

// Scheduler owns one goroutine per background job.
type Scheduler struct {
	cfg    Config
	logger sekhalog.Logger
	holder string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler. Call Start to launch its jobs.
func New(cfg Config) *Scheduler {
	if cfg.EmbeddingReaperInterval <= 0 {
		cfg.EmbeddingReaperInterval = 5 * time.Minute
	}
	if cfg.VectorReaperInterval <= 0 {
		cfg.VectorReaperInterval = 5 * time.Minute
	}
	if cfg.SummarizationInterval <= 0 {
		cfg.SummarizationInterval = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	host, _ := os.Hostname()
	return &Scheduler{cfg: cfg, logger: cfg.Logger, holder: fmt.Sprintf("%s-%d", host, os.Getpid())}
}

// Start launches every configured job as its own ticker goroutine.
func (sc *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	sc.cancel = cancel

	sc.runJob(ctx, lockEmbeddingReaper, sc.cfg.EmbeddingReaperInterval, sc.reapFailedEmbeddings)
	sc.runJob(ctx, lockVectorReaper, sc.cfg.VectorReaperInterval, sc.reapPendingVectorDeletes)
	if sc.cfg.Summarization != nil {
		sc.runJob(ctx, lockSummarization, sc.cfg.SummarizationInterval, sc.runNightlyRollup)
	}
}

// Stop cancels every job goroutine and waits for the current tick to finish.
func (sc *Scheduler) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.wg.Wait()
}

func (sc *Scheduler) runJob(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		first := time.NewTimer(2 * time.Second)
		defer first.Stop()

		tick := func() {
			ok, err := sc.cfg.Store.AcquireJobLock(ctx, name, sc.holder, time.Now().Add(lockLeaseDuration))
			if err != nil {
				sc.logger.Warn("scheduler: lock acquire failed", "job", name, "error", err)
				return
			}
			if !ok {
				return // another process holds this job's lock
			}
			defer func() {
				if err := sc.cfg.Store.ReleaseJobLock(ctx, name, sc.holder); err != nil {
					sc.logger.Warn("scheduler: lock release failed", "job", name, "error", err)
				}
			}()
			fn(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-first.C:
				tick()
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// ReapFailedEmbeddingsNow runs the failed-embeddings reaper a single time,
// outside its ticker loop, for the `sekha reap` CLI command.
func (sc *Scheduler) ReapFailedEmbeddingsNow(ctx context.Context) { sc.reapFailedEmbeddings(ctx) }

// ReapPendingVectorDeletesNow runs the pending-vector-delete reaper a single
// time, outside its ticker loop, for the `sekha reap` CLI command.
func (sc *Scheduler) ReapPendingVectorDeletesNow(ctx context.Context) {
	sc.reapPendingVectorDeletes(ctx)
}

// reapFailedEmbeddings retries messages in the dead-letter table by
// re-enqueuing them onto the Embedding Queue, clearing the dead-letter row
// once the re-enqueue itself succeeds (the queue's own retry/dead-letter
// loop takes over from there if it fails again).
func (sc *Scheduler) reapFailedEmbeddings(ctx context.Context) {
	if sc.cfg.Metrics != nil && sc.cfg.Queue != nil {
		sc.cfg.Metrics.QueueDepth.Set(float64(sc.cfg.Queue.Depth()))
	}
	failed, err := sc.cfg.Store.ListFailedEmbeddings(ctx, defaultReaperBatch)
	if err != nil {
		sc.logger.Warn("reaper: list failed embeddings", "error", err)
		return
	}
	if sc.cfg.Metrics != nil {
		sc.cfg.Metrics.DeadLetterCount.Set(float64(len(failed)))
	}
	if len(failed) == 0 {
		return
	}

	ids := make([]string, len(failed))
	for i, f := range failed {
		ids[i] = f.MessageID
	}
	msgs, err := sc.cfg.Store.GetMessagesByID(ctx, ids)
	if err != nil {
		sc.logger.Warn("reaper: load dead-lettered messages", "error", err)
		return
	}
	byID := make(map[string]*store.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	for _, f := range failed {
		m, ok := byID[f.MessageID]
		if !ok {
			// message was deleted since it dead-lettered; nothing left to retry
			if err := sc.cfg.Store.ClearFailedEmbedding(ctx, f.MessageID); err != nil {
				sc.logger.Warn("reaper: clear orphaned dead-letter", "message_id", f.MessageID, "error", err)
			}
			continue
		}
		if sc.cfg.Queue.Enqueue(queue.Job{MessageID: m.ID, ConversationID: m.ConversationID, Content: m.Content}) {
			if err := sc.cfg.Store.ClearFailedEmbedding(ctx, f.MessageID); err != nil {
				sc.logger.Warn("reaper: clear re-enqueued dead-letter", "message_id", f.MessageID, "error", err)
			}
		}
	}
}

// reapPendingVectorDeletes retries vector-store cleanup for conversations
// whose delete cascade couldn't reach the Vector Store synchronously
// (spec.md §4.6 delete_conversation's "reconciled asynchronously" path).
func (sc *Scheduler) reapPendingVectorDeletes(ctx context.Context) {
	pending, err := sc.cfg.Store.ListPendingVectorDeletes(ctx, defaultReaperBatch)
	if err != nil {
		sc.logger.Warn("reaper: list pending vector deletes", "error", err)
		return
	}
	if sc.cfg.Metrics != nil {
		sc.cfg.Metrics.PendingVectorDeletes.Set(float64(len(pending)))
	}
	for _, p := range pending {
		err := sc.cfg.Vectors.DeleteWhere(ctx, vectorstore.Filter{"conversation_id": p.ConversationID})
		if err != nil {
			sc.logger.Warn("reaper: vector delete retry failed", "conversation_id", p.ConversationID, "error", err)
			continue
		}
		if err := sc.cfg.Store.ClearPendingVectorDelete(ctx, p.ConversationID); err != nil {
			sc.logger.Warn("reaper: clear pending vector delete", "conversation_id", p.ConversationID, "error", err)
		}
	}
}

func (sc *Scheduler) runNightlyRollup(ctx context.Context) {
	daily, weekly, monthly, err := sc.cfg.Summarization.RunNightlyRollup(ctx, time.Now().UTC())
	if err != nil {
		sc.logger.Warn("scheduler: nightly rollup failed", "error", err)
		return
	}
	sc.logger.Info("scheduler: nightly rollup complete", "daily", daily, "weekly", weekly, "monthly", monthly)
	if sc.cfg.Metrics != nil {
		sc.cfg.Metrics.RollupsTotal.WithLabelValues("daily").Add(float64(daily))
		sc.cfg.Metrics.RollupsTotal.WithLabelValues("weekly").Add(float64(weekly))
		sc.cfg.Metrics.RollupsTotal.WithLabelValues("monthly").Add(float64(monthly))
	}
}

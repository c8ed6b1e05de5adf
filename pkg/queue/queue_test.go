package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSink struct {
	mu      sync.Mutex
	reasons map[string]string
}

func newFakeSink() *fakeSink { return &fakeSink{reasons: map[string]string{}} }

func (f *fakeSink) RecordFailedEmbedding(_ context.Context, messageID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons[messageID] = reason
	return nil
}

func TestQueueProcessesSuccessfulJob(t *testing.T) {
	var processed int32
	q := New(Config{Workers: 1, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, newFakeSink())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if ok := q.Enqueue(Job{MessageID: "m1", Content: "hello"}); !ok {
		t.Fatal("expected Enqueue to succeed")
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&processed) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	sink := newFakeSink()
	q := New(Config{Workers: 1, MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, func(ctx context.Context, job Job) error {
		return errors.New("embedder unavailable")
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Enqueue(Job{MessageID: "m2", Content: "hello"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		_, ok := sink.reasons["m2"]
		sink.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected job to be dead-lettered within deadline")
}

func TestQueueBackpressureSpillsToDeadLetterAboveHighWatermark(t *testing.T) {
	block := make(chan struct{})
	sink := newFakeSink()
	q := New(Config{Workers: 1, Capacity: 2, HighWatermark: 2, LowWatermark: 1}, func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer close(block)

	if !q.Enqueue(Job{MessageID: "a"}) {
		t.Fatal("expected first enqueue to join the live queue")
	}
	if !q.Enqueue(Job{MessageID: "b"}) {
		t.Fatal("expected second enqueue to join the live queue")
	}

	// Above the high watermark, Enqueue is still no-fail (spec.md §4.5): it
	// returns false to signal the job didn't join the live worker pool, but
	// it must spill the job to the dead-letter sink rather than drop it.
	if q.Enqueue(Job{MessageID: "c"}) {
		t.Fatal("expected third enqueue to spill rather than join the live queue")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		_, ok := sink.reasons["c"]
		sink.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the spilled job to be recorded in the dead-letter sink")
}

func TestStopDeadLettersUndrainedJobs(t *testing.T) {
	block := make(chan struct{})
	sink := newFakeSink()
	q := New(Config{Workers: 1, Capacity: 4, HighWatermark: 4, LowWatermark: 1}, func(ctx context.Context, job Job) error {
		<-block // first job blocks forever so later ones never leave the channel
		return nil
	}, sink)

	ctx := context.Background()
	q.Start(ctx)

	q.Enqueue(Job{MessageID: "first"})  // picked up by the worker, blocks on `block`
	q.Enqueue(Job{MessageID: "second"}) // stays buffered in the channel

	time.Sleep(20 * time.Millisecond) // let the worker claim "first"

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	q.Stop(stopCtx)
	close(block)

	sink.mu.Lock()
	_, ok := sink.reasons["second"]
	sink.mu.Unlock()
	if !ok {
		t.Fatal("expected the still-buffered job to be dead-lettered on shutdown")
	}
}

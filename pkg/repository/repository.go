// Package repository is the write-path facade over conversational memory
// (spec.md §4.6): the HTTP/tool surface and the CLI send every write
// (store_conversation, append_messages, update_label, set_status,
// set_importance, delete_conversation) through here so the Relational Store
// write and the Embedding Queue enqueue (or the vector-store delete) happen
// together, in the same place, every time. It is not the only writer:
// pkg/intelligence's importance scoring, pkg/summarization, pkg/scheduler's
// reapers and pkg/httpapi's admin endpoints call pkg/store directly.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sekha-ai/sekha/internal/sekherr"
	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

// Repository is the write-path facade over the Relational Store, the
// Embedding Queue, and the Vector Store.
type Repository struct {
	store   *store.Store
	queue   *queue.Queue
	vectors vectorstore.Store
	logger  sekhalog.Logger
	autoEmbed bool
}

// Config wires a Repository's dependencies.
type Config struct {
	Store     *store.Store
	Queue     *queue.Queue
	Vectors   vectorstore.Store
	AutoEmbed bool
	Logger    sekhalog.Logger
}

// New builds a Repository.
func New(cfg Config) *Repository {
	if cfg.Logger == nil {
		cfg.Logger = sekhalog.NewStd()
	}
	return &Repository{store: cfg.Store, queue: cfg.Queue, vectors: cfg.Vectors, autoEmbed: cfg.AutoEmbed, logger: cfg.Logger}
}

// StoreConversation creates a new conversation and its initial messages as
// one atomic unit (spec.md §4.6: "begins a transaction, inserts the
// conversation row, inserts all messages, commits" — on any failure the
// whole write rolls back and nothing is enqueued), then enqueues each
// message for embedding when features.auto_embed is enabled.
func (r *Repository) StoreConversation(ctx context.Context, c *store.Conversation, initialMessages []*store.Message) (*store.Conversation, []*store.Message, error) {
	created, msgs, err := r.store.CreateConversationWithMessages(ctx, c, initialMessages)
	if err != nil {
		return nil, nil, err
	}
	r.enqueueEmbeddings(created.ID, msgs)
	return created, msgs, nil
}

// AppendMessages writes messages to an existing conversation and, if
// enabled, enqueues each for embedding.
func (r *Repository) AppendMessages(ctx context.Context, conversationID string, msgs []*store.Message) ([]*store.Message, error) {
	written, err := r.store.AppendMessages(ctx, conversationID, msgs)
	if err != nil {
		return nil, err
	}
	r.enqueueEmbeddings(conversationID, written)
	return written, nil
}

// enqueueEmbeddings submits each message to the Embedding Queue.
// spec.md §4.5: "enqueue(message_id, content) is a no-fail ... operation" —
// Enqueue itself never rejects a job, so there is nothing here to fall back
// on; this only guards the autoEmbed feature flag and a nil queue in tests.
func (r *Repository) enqueueEmbeddings(conversationID string, msgs []*store.Message) {
	if !r.autoEmbed || r.queue == nil {
		return
	}
	for _, m := range msgs {
		r.queue.Enqueue(queue.Job{MessageID: m.ID, ConversationID: conversationID, Content: m.Content})
	}
}

// UpdateLabel renames a conversation.
func (r *Repository) UpdateLabel(ctx context.Context, id, label string) error {
	return r.store.UpdateLabel(ctx, id, label)
}

// SetStatus transitions a conversation's lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, id string, status store.Status) error {
	return r.store.SetStatus(ctx, id, status)
}

// SetImportance overwrites a conversation's importance score.
func (r *Repository) SetImportance(ctx context.Context, id string, score int) error {
	return r.store.SetImportance(ctx, id, score)
}

// DeleteConversation removes a conversation from the Relational Store and
// attempts to clean up its vectors immediately; on vector-store failure it
// records a pending_vector_deletes row for the reaper instead of failing
// the whole delete (the relational row is the durability boundary).
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	if err := r.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	if r.vectors == nil {
		return nil
	}
	if err := r.vectors.DeleteWhere(ctx, vectorstore.Filter{"conversation_id": id}); err != nil {
		r.logger.Warn("vector cleanup failed, deferring to reaper", "conversation_id", id, "error", err)
		if recErr := r.store.RecordPendingVectorDelete(ctx, id); recErr != nil {
			return sekherr.New(sekherr.KindInternal, "repository.delete_conversation", fmt.Errorf("record pending delete: %w", recErr))
		}
	}
	return nil
}

// GetConversation loads a conversation by ID.
func (r *Repository) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return r.store.GetConversation(ctx, id)
}

// GetMessageList loads a conversation's messages in chronological order.
func (r *Repository) GetMessageList(ctx context.Context, conversationID string, limit, offset int) ([]*store.Message, error) {
	return r.store.GetMessageList(ctx, conversationID, limit, offset)
}

// ListConversations lists conversations under a folder.
func (r *Repository) ListConversations(ctx context.Context, folder string, recursive bool, label string, status store.Status, limit, offset int) ([]*store.Conversation, error) {
	return r.store.ListConversations(ctx, folder, recursive, label, status, limit, offset)
}

// GetStats aggregates store-wide counts for the memory_stats tool.
func (r *Repository) GetStats(ctx context.Context) (*store.Stats, error) {
	return r.store.GetStats(ctx)
}

// TouchLastReferenced records that a conversation surfaced via retrieval,
// feeding the importance heuristic's recency term.
func (r *Repository) TouchLastReferenced(ctx context.Context, id string) error {
	return r.store.TouchLastReferenced(ctx, id, time.Now().UTC())
}

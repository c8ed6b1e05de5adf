package store

import (
	"context"
	"fmt"
)

// migrations is an ordered list of idempotent schema steps, tracked in
// schema_migrations so `sekha migrate` and first-run Open agree on state
// (SPEC_FULL.md §3.1).
var migrations = []struct {
	version int
	sql     string
}{
	{1, schemaV1},
	{2, schemaV2},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT '',
	folder TEXT NOT NULL DEFAULT '/',
	status TEXT NOT NULL DEFAULT 'active',
	importance_score INTEGER NOT NULL DEFAULT 5,
	word_count INTEGER NOT NULL DEFAULT 0,
	session_count INTEGER NOT NULL DEFAULT 0,
	last_referenced_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_label_status ON conversations(label, status);
CREATE INDEX IF NOT EXISTS idx_conversations_folder_updated ON conversations(folder, updated_at);

-- Monotone updated_at (I3): any mutation of a tracked column re-stamps
-- updated_at to the current time; application code never writes updated_at
-- directly for label/status/importance/message-count changes.
CREATE TRIGGER IF NOT EXISTS trg_conversations_touch
AFTER UPDATE OF label, folder, status, importance_score, word_count, session_count, last_referenced_at ON conversations
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE conversations SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = NEW.id;
END;

CREATE TABLE IF NOT EXISTS messages (
	message_rowid INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	embedding_id TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content,
	content='messages',
	content_rowid='message_rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS trg_messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, content) VALUES (new.message_rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS trg_messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.message_rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS trg_messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.message_rowid, old.content);
	INSERT INTO messages_fts(rowid, content) VALUES (new.message_rowid, new.content);
END;

-- Appending a message touches the owning conversation's word_count and
-- updated_at in the same transaction (spec.md §4.6 append_messages).
CREATE TRIGGER IF NOT EXISTS trg_messages_touch_conversation AFTER INSERT ON messages BEGIN
	UPDATE conversations
	SET word_count = word_count + (LENGTH(TRIM(new.content)) - LENGTH(REPLACE(TRIM(new.content), ' ', '')) + CASE WHEN LENGTH(TRIM(new.content)) = 0 THEN 0 ELSE 1 END),
	    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	WHERE id = new.conversation_id;
END;

CREATE TABLE IF NOT EXISTS hierarchical_summaries (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	level TEXT NOT NULL,
	summary_text TEXT NOT NULL,
	range_start TEXT NOT NULL,
	range_end TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	model_used TEXT,
	token_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(conversation_id, level, range_start, range_end)
);
CREATE INDEX IF NOT EXISTS idx_summaries_conv_level ON hierarchical_summaries(conversation_id, level);

CREATE TABLE IF NOT EXISTS semantic_tags (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	confidence REAL NOT NULL,
	extracted_at TEXT NOT NULL,
	PRIMARY KEY (conversation_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON semantic_tags(tag);

CREATE TABLE IF NOT EXISTS failed_embeddings (
	message_id TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_vector_deletes (
	conversation_id TEXT PRIMARY KEY,
	first_seen TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS job_locks (
	name TEXT PRIMARY KEY,
	locked_until TEXT NOT NULL,
	holder TEXT NOT NULL
);
`

// schemaV2 adds a durable snapshot of the embedded vector store (vectorstore.Embedded
// holds its HNSW graph in memory only) so a single-binary deployment survives a
// restart without silently losing I2 for every previously-indexed message.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS vector_snapshots (
	id TEXT PRIMARY KEY,
	vector BLOB NOT NULL,
	metadata TEXT,
	updated_at TEXT NOT NULL
);
`

// migrate applies every migration step not yet recorded in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m.version, m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, stmts string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

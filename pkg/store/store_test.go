package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func addSeconds(n int) time.Time {
	return time.Now().UTC().Add(time.Duration(n) * time.Second)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sekha_test.db")
	s, err := Open(context.Background(), Config{Path: dbPath, MaxConnections: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, &Conversation{Label: "kickoff notes", Folder: "/work/project-a"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.ID == "" {
		t.Fatal("expected generated ID")
	}
	if c.Status != StatusActive {
		t.Errorf("expected default status active, got %q", c.Status)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Label != "kickoff notes" {
		t.Errorf("Label = %q, want %q", got.Label, "kickoff notes")
	}
}

func TestCreateConversationRejectsBadFolder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateConversation(context.Background(), &Conversation{Folder: "no-leading-slash"})
	if err == nil {
		t.Fatal("expected error for invalid folder")
	}
}

func TestUpdateLabelNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateLabel(context.Background(), "does-not-exist", "x"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestAppendMessagesTouchesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, &Conversation{Folder: "/"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msgs := []*Message{
		{Role: RoleUser, Content: "hello there friend"},
		{Role: RoleAssistant, Content: "hi"},
	}
	if _, err := s.AppendMessages(ctx, c.ID, msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.WordCount == 0 {
		t.Error("expected word_count to be updated by trigger")
	}
	if got.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", got.SessionCount)
	}

	list, err := s.GetMessageList(ctx, c.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessageList: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
}

func TestAppendMessagesRejectsUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendMessages(context.Background(), "missing", []*Message{{Role: RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestSearchFullText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, &Conversation{Folder: "/"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	msgs := []*Message{
		{Role: RoleUser, Content: "the quarterly budget review is tomorrow"},
		{Role: RoleAssistant, Content: "completely unrelated weather chatter"},
	}
	if _, err := s.AppendMessages(ctx, c.ID, msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	hits, err := s.SearchFullText(ctx, "budget", FTSFilters{}, 10)
	if err != nil {
		t.Fatalf("SearchFullText: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if hits[0].Message.Content != msgs[0].Content {
		t.Errorf("matched wrong message: %q", hits[0].Message.Content)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, &Conversation{Folder: "/"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := s.AppendMessages(ctx, c.ID, []*Message{{Role: RoleUser, Content: "ephemeral"}}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); err == nil {
		t.Fatal("expected not-found after delete")
	}

	msgs, err := s.GetMessageList(ctx, c.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessageList: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected cascaded message delete, got %d remaining", len(msgs))
	}
}

func TestJobLockMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireJobLock(ctx, "reap-failed-embeddings", "worker-1", addSeconds(60))
	if err != nil {
		t.Fatalf("AcquireJobLock: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = s.AcquireJobLock(ctx, "reap-failed-embeddings", "worker-2", addSeconds(60))
	if err != nil {
		t.Fatalf("AcquireJobLock: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while lock is held")
	}
}

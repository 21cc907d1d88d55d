package conversation

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/wellpen/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := &Record{
		UserID:        "alice",
		Stage:         "preview",
		Brief:         map[string]any{"audience": "runners"},
		GenerationIDs: []string{"g1"},
		State:         map[string]any{"stage": "preview"},
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
		},
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Save should assign an ID")
	}

	got, err := s.Load(ctx, rec.ID, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Stage != "preview" || got.Brief["audience"] != "runners" {
		t.Errorf("Load = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hello" {
		t.Errorf("Messages = %+v", got.Messages)
	}
	if len(got.GenerationIDs) != 1 || got.State["stage"] != "preview" {
		t.Errorf("GenerationIDs = %v State = %v", got.GenerationIDs, got.State)
	}

	rec.Stage = "generation"
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.Load(ctx, rec.ID, "alice")
	if got.Stage != "generation" {
		t.Errorf("Stage after update = %q", got.Stage)
	}
}

func TestStore_Ownership(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := &Record{UserID: "alice", Stage: "briefing"}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(ctx, rec.ID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Load by other user err = %v, want ErrForbidden", err)
	}
	if err := s.Save(ctx, &Record{ID: rec.ID, UserID: "mallory", Stage: "complete"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Save over other user err = %v, want ErrForbidden", err)
	}
	if _, err := s.Load(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing err = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, &Record{Stage: "briefing"}); err == nil {
		t.Error("Save without user should fail")
	}
}

func TestStore_List(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, u := range []string{"alice", "alice", "bob"} {
		if err := s.Save(ctx, &Record{UserID: u, Stage: "briefing"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("List = %d entries, want 2", len(got))
	}
}

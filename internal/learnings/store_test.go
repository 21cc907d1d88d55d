package learnings

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_PendingUntilApproved(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, Learning{
		Agent:      "preview",
		Type:       "preference",
		Topic:      "hook",
		Content:    "User liked the hook",
		Summary:    "Keep hooks specific",
		Confidence: 0.7,
		Tags:       []string{"hook"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Approved(ctx, "preview", "", 10)
	if err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("pending learning returned as approved: %+v", got)
	}

	pending, _ := s.Pending(ctx, 0)
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("Pending = %+v", pending)
	}

	if err := s.Approve(ctx, id); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	got, _ = s.Approved(ctx, "preview", "hook", 10)
	if len(got) != 1 {
		t.Fatalf("Approved after approve = %d entries, want 1", len(got))
	}
	if got[0].Tags[0] != "hook" || !got[0].Approved {
		t.Errorf("learning = %+v", got[0])
	}
}

func TestStore_AgentScoping(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, l := range []Learning{
		{Agent: "", Type: "style", Content: "global", Summary: "global", Confidence: 0.5},
		{Agent: "wellness", Type: "correction", Content: "facts", Summary: "facts", Confidence: 0.9},
		{Agent: "generation", Type: "preference", Content: "tone", Summary: "tone", Confidence: 0.6},
	} {
		id, err := s.Save(ctx, l)
		if err != nil {
			t.Fatal(err)
		}
		s.Approve(ctx, id)
	}

	got, _ := s.Approved(ctx, "wellness", "", 10)
	if len(got) != 2 {
		t.Fatalf("wellness sees %d learnings, want 2 (own + global)", len(got))
	}
	if got[0].Summary != "facts" {
		t.Errorf("highest confidence first: got %q", got[0].Summary)
	}
}

func TestStore_ApproveUnknown(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Approve(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(unknown) = %v, want ErrNotFound", err)
	}
}

func TestFormatForPrompt(t *testing.T) {
	if FormatForPrompt(nil) != "" {
		t.Error("empty list should render empty")
	}
	out := FormatForPrompt([]Learning{{Type: "style", Summary: "Shorter intros"}, {Type: "correction", Content: "Avoid cure claims"}})
	if !strings.Contains(out, "- [style] Shorter intros") || !strings.Contains(out, "- [correction] Avoid cure claims") {
		t.Errorf("FormatForPrompt = %q", out)
	}
}

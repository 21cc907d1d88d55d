// Package conversation persists content conversations: the transcript,
// the current stage and the coordinator state snapshot.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/wellpen/internal/llm"
)

var (
	// ErrNotFound is returned when no conversation has the given ID.
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden is returned when a conversation belongs to another
	// user. Callers must not report it as ErrNotFound.
	ErrForbidden = errors.New("conversation forbidden")
)

// Record is one persisted conversation.
type Record struct {
	ID            string
	UserID        string
	Messages      []llm.Message
	Stage         string
	Brief         map[string]any
	GenerationIDs []string
	State         map[string]any // coordinator export
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary is a listing entry.
type Summary struct {
	ID        string
	Stage     string
	Messages  int
	UpdatedAt time.Time
}

// Store is a SQLite conversation store.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store on db, creating the schema if
// needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		stage          TEXT NOT NULL,
		brief          TEXT,
		generation_ids TEXT,
		state          TEXT,
		messages       TEXT,
		message_count  INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);
	`)
	return err
}

// NewID returns a fresh conversation ID.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate conversation ID: %w", err)
	}
	return id.String(), nil
}

// Save inserts or replaces rec. Saving over a conversation owned by a
// different user fails with ErrForbidden.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.UserID == "" {
		return fmt.Errorf("conversation %s has no user", rec.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var owner, created string
	err = tx.QueryRowContext(ctx, `SELECT user_id, created_at FROM conversations WHERE id = ?`, rec.ID).Scan(&owner, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.CreatedAt = time.Now()
	case err != nil:
		return fmt.Errorf("check conversation owner: %w", err)
	case owner != rec.UserID:
		return fmt.Errorf("save %s: %w", rec.ID, ErrForbidden)
	default:
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	rec.UpdatedAt = time.Now()

	brief, err := marshal(rec.Brief)
	if err != nil {
		return err
	}
	gens, err := marshal(rec.GenerationIDs)
	if err != nil {
		return err
	}
	state, err := marshal(rec.State)
	if err != nil {
		return err
	}
	msgs, err := marshal(rec.Messages)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations
			(id, user_id, stage, brief, generation_ids, state, messages, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			brief = excluded.brief,
			generation_ids = excluded.generation_ids,
			state = excluded.state,
			messages = excluded.messages,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		rec.ID, rec.UserID, rec.Stage, brief, gens, state, msgs, len(rec.Messages),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// Load returns the conversation id if it belongs to userID.
func (s *Store) Load(ctx context.Context, id, userID string) (*Record, error) {
	var (
		rec                      Record
		brief, gens, state, msgs sql.NullString
		created, updated         string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, stage, brief, generation_ids, state, messages, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.Stage, &brief, &gens, &state, &msgs, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("load %s: %w", id, ErrForbidden)
	}

	for _, f := range []struct {
		raw sql.NullString
		dst any
	}{
		{brief, &rec.Brief},
		{gens, &rec.GenerationIDs},
		{state, &rec.State},
		{msgs, &rec.Messages},
	} {
		if !f.raw.Valid || f.raw.String == "" || f.raw.String == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw.String), f.dst); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", id, err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

// List returns the user's most recently updated conversations.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, message_count, updated_at FROM conversations
		WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var updated string
		if err := rows.Scan(&sum.ID, &sum.Stage, &sum.Messages, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode conversation field: %w", err)
	}
	return string(data), nil
}

// Package learnings persists lessons derived from user feedback. New
// learnings are saved pending and only reach agent prompts once
// approved.
package learnings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a learning ID does not exist.
var ErrNotFound = errors.New("learning not found")

// Learning is one stored lesson.
type Learning struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent,omitempty"` // empty applies to every agent
	Type       string    `json:"type"`
	Topic      string    `json:"topic,omitempty"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	Approved   bool      `json:"approved"`
	Source     string    `json:"source,omitempty"` // originating conversation or generation
	CreatedAt  time.Time `json:"created_at"`
}

// Source supplies approved learnings to agents.
type Source interface {
	Approved(ctx context.Context, agent, topic string, limit int) ([]Learning, error)
}

// Store manages learning persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a learning store using an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS learnings (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			summary TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			tags TEXT,
			approved INTEGER NOT NULL DEFAULT 0,
			source TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_learnings_agent ON learnings(agent, approved);
	`)
	return err
}

// Save stores l as pending and returns its ID.
func (s *Store) Save(ctx context.Context, l Learning) (string, error) {
	if strings.TrimSpace(l.Content) == "" {
		return "", fmt.Errorf("learning has no content")
	}
	if l.ID == "" {
		id, _ := uuid.NewV7()
		l.ID = id.String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(l.Tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO learnings (id, agent, type, topic, content, summary, confidence, tags, approved, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, l.ID, l.Agent, l.Type, l.Topic, l.Content, l.Summary, l.Confidence, string(tags), l.Source,
		l.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert learning: %w", err)
	}
	return l.ID, nil
}

// Approve marks a learning as usable in prompts.
func (s *Store) Approve(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE learnings SET approved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("approve learning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Approved returns approved learnings for agent (plus those that apply to
// every agent), optionally narrowed to topic, highest confidence first.
func (s *Store) Approved(ctx context.Context, agent, topic string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.query(ctx, `
		SELECT id, agent, type, topic, content, summary, confidence, tags, approved, source, created_at
		FROM learnings
		WHERE approved = 1 AND (agent = ? OR agent = '') AND (? = '' OR topic = ?)
		ORDER BY confidence DESC, created_at DESC
		LIMIT ?
	`, agent, topic, topic, limit)
}

// Pending returns learnings awaiting approval, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `
		SELECT id, agent, type, topic, content, summary, confidence, tags, approved, source, created_at
		FROM learnings
		WHERE approved = 0
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Learning, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query learnings: %w", err)
	}
	defer rows.Close()

	var out []Learning
	for rows.Next() {
		var (
			l         Learning
			tags      sql.NullString
			source    sql.NullString
			approved  int
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.Agent, &l.Type, &l.Topic, &l.Content, &l.Summary,
			&l.Confidence, &tags, &approved, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &l.Tags)
		}
		l.Approved = approved == 1
		l.Source = source.String
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// FormatForPrompt renders learnings as a bullet list for a system prompt.
func FormatForPrompt(ls []Learning) string {
	if len(ls) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Lessons from past feedback\n\n")
	for _, l := range ls {
		text := l.Summary
		if text == "" {
			text = l.Content
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", l.Type, text)
	}
	return sb.String()
}

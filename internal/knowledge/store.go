// Package knowledge stores reference passages and answers similarity
// queries over them for the search_knowledge tool.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/wellpen/internal/embeddings"
)

// Result is one ranked passage.
type Result struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// Searcher answers similarity queries. sourceFilter restricts results to
// one source when non-empty.
type Searcher interface {
	Query(ctx context.Context, text string, topK int, threshold float64, sourceFilter string) ([]Result, error)
}

// Store keeps passages and their embeddings in SQLite. Without an
// embedder it ranks by query-term overlap instead.
type Store struct {
	db       *sql.DB
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewStore creates a knowledge store on db. embedder may be nil.
func NewStore(db *sql.DB, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, embedder: embedder, logger: logger.With("component", "knowledge")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_source ON knowledge_chunks(source);
	`)
	return err
}

// Add stores one passage, embedding it when an embedder is configured.
func (s *Store) Add(ctx context.Context, source, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty passage")
	}

	var blob []byte
	if s.embedder != nil {
		vec, err := s.embedder.Generate(ctx, content)
		if err != nil {
			return "", fmt.Errorf("embed passage: %w", err)
		}
		blob = embeddings.Encode(vec)
	}

	id, _ := uuid.NewV7()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_chunks (id, source, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), source, content, blob, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert passage: %w", err)
	}
	return id.String(), nil
}

// DeleteBySource removes every passage from source and returns how many
// were removed.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("delete passages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

// Query returns up to topK passages scoring at least threshold, best first.
func (s *Store) Query(ctx context.Context, text string, topK int, threshold float64, sourceFilter string) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Generate(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	q := `SELECT source, content, embedding FROM knowledge_chunks`
	var args []any
	if sourceFilter != "" {
		q += ` WHERE source = ?`
		args = append(args, sourceFilter)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	terms := queryTerms(text)
	var results []Result
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.Source, &r.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		if queryVec != nil {
			r.Similarity = float64(embeddings.CosineSimilarity(queryVec, embeddings.Decode(blob)))
		} else {
			r.Similarity = termOverlap(terms, r.Content)
		}
		if r.Similarity >= threshold && r.Similarity > 0 {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Debug("knowledge query",
		"terms", len(terms),
		"source", sourceFilter,
		"results", len(results),
	)
	return results, nil
}

func queryTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
}

// termOverlap scores the fraction of query terms present in content.
func termOverlap(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// SplitPassages breaks a document into blank-line separated paragraphs.
func SplitPassages(doc string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package ingest imports reference documents into the knowledge base.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PassageStore receives ingested passages.
type PassageStore interface {
	Add(ctx context.Context, source, content string) (string, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
}

// MarkdownIngester splits markdown documents into heading-scoped
// passages and stores them under one source name.
type MarkdownIngester struct {
	store  PassageStore
	source string
	logger *slog.Logger
}

// NewMarkdownIngester creates an ingester writing to store under source.
func NewMarkdownIngester(store PassageStore, source string, logger *slog.Logger) *MarkdownIngester {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownIngester{
		store:  store,
		source: source,
		logger: logger.With("component", "ingest", "source", source),
	}
}

// Chunk is the text under one heading.
type Chunk struct {
	Key     string // slug path of the enclosing headings
	Title   string // heading path, e.g. "Sleep / Naps"
	Content string
}

// IngestFile reads and stores a markdown file.
func (m *MarkdownIngester) IngestFile(ctx context.Context, path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}
	return m.ingestChunks(ctx, parseMarkdown(src))
}

// IngestString stores markdown content from a string.
func (m *MarkdownIngester) IngestString(ctx context.Context, content string) (int, error) {
	return m.ingestChunks(ctx, parseMarkdown([]byte(content)))
}

// ingestChunks replaces everything previously stored from the source.
func (m *MarkdownIngester) ingestChunks(ctx context.Context, chunks []Chunk) (int, error) {
	removed, err := m.store.DeleteBySource(ctx, m.source)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("replacing previous import", "removed", removed)
	}

	count := 0
	for _, c := range chunks {
		passage := c.Content
		if c.Title != "" {
			passage = c.Title + "\n\n" + c.Content
		}
		if _, err := m.store.Add(ctx, m.source, passage); err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			m.logger.Warn("passage skipped", "key", c.Key, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// parseMarkdown walks the document's top-level blocks and groups them
// under the nearest heading (levels 1 to 3). Deeper headings stay part
// of the content.
func parseMarkdown(src []byte) []Chunk {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var (
		chunks  []Chunk
		path    [3]string
		current strings.Builder
	)

	flush := func() {
		body := strings.TrimSpace(current.String())
		current.Reset()
		if body == "" {
			return
		}
		var titles, slugs []string
		for _, h := range path {
			if h != "" {
				titles = append(titles, h)
				slugs = append(slugs, slugify(h))
			}
		}
		chunks = append(chunks, Chunk{
			Key:     strings.Join(slugs, "/"),
			Title:   strings.Join(titles, " / "),
			Content: body,
		})
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level <= 3 {
			flush()
			path[h.Level-1] = strings.TrimSpace(lineText(h, src))
			for i := h.Level; i < len(path); i++ {
				path[i] = ""
			}
			continue
		}
		writeBlock(&current, n, src)
	}
	flush()
	return chunks
}

// writeBlock renders a block as plain text, one leaf block per line.
func writeBlock(b *strings.Builder, n ast.Node, src []byte) {
	switch n := n.(type) {
	case *ast.FencedCodeBlock:
		b.WriteString("```\n")
		b.WriteString(lineText(n, src))
		b.WriteString("```\n\n")
		return
	case *ast.ListItem:
		b.WriteString("- ")
	}

	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		b.WriteString(lineText(n, src))
		if _, inItem := n.Parent().(*ast.ListItem); !inItem {
			b.WriteString("\n")
		}
		return
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeBlock(b, c, src)
	}
	if _, isList := n.(*ast.List); isList {
		b.WriteString("\n")
	}
}

func lineText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		b.WriteString(strings.TrimRight(string(seg.Value(src)), "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify converts a heading to a key-friendly form.
func slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

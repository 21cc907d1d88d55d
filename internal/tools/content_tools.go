package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/wellpen/internal/fetch"
	"github.com/nugget/wellpen/internal/knowledge"
	"github.com/nugget/wellpen/internal/learnings"
	"github.com/nugget/wellpen/internal/search"
)

// Tool names offered to the content agents.
const (
	SearchKnowledge = "search_knowledge"
	GetLearnings    = "get_learnings"
	FetchPage       = "fetch_page"
	WebSearch       = "web_search"
)

// PageFetcher downloads a reference page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// WebSearcher runs web searches.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// NewSearchKnowledgeTool queries the knowledge base.
func NewSearchKnowledgeTool(s knowledge.Searcher) *Tool {
	return &Tool{
		Name:        SearchKnowledge,
		Description: "Search the reference knowledge base for passages about a topic. Use it to ground claims, find programs, and check facts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for, in plain words",
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": "Maximum passages to return (default 5)",
				},
				"threshold": map[string]any{
					"type":        "number",
					"description": "Minimum similarity from 0 to 1 (default 0.3)",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Optional: only search passages from this source",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			results, err := s.Query(ctx,
				stringArg(args, "query"),
				intArg(args, "top_k", 5),
				floatArg(args, "threshold", 0.3),
				stringArg(args, "source"),
			)
			if err != nil {
				return "", fmt.Errorf("search knowledge: %w", err)
			}
			if len(results) == 0 {
				return "No matching passages found.", nil
			}

			var sb strings.Builder
			for i, r := range results {
				fmt.Fprintf(&sb, "[%d] (%s, similarity %.2f)\n%s\n\n", i+1, r.Source, r.Similarity, r.Content)
			}
			return strings.TrimSpace(sb.String()), nil
		},
	}
}

// NewGetLearningsTool returns approved lessons from past feedback. The
// agent name defaults to the role executing the tool.
func NewGetLearningsTool(src learnings.Source) *Tool {
	return &Tool{
		Name:        GetLearnings,
		Description: "Retrieve approved lessons learned from earlier user feedback, optionally for one topic such as hook, tone, facts or cta.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "Optional topic filter",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum lessons to return (default 5)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			agent := stringArg(args, "agent")
			if agent == "" {
				agent = AgentNameFromContext(ctx)
			}
			ls, err := src.Approved(ctx, agent, stringArg(args, "topic"), intArg(args, "limit", 5))
			if err != nil {
				return "", fmt.Errorf("get learnings: %w", err)
			}
			if len(ls) == 0 {
				return "No approved learnings yet.", nil
			}

			type item struct {
				Type       string  `json:"type"`
				Summary    string  `json:"summary"`
				Content    string  `json:"content"`
				Confidence float64 `json:"confidence"`
			}
			items := make([]item, len(ls))
			for i, l := range ls {
				items[i] = item{Type: l.Type, Summary: l.Summary, Content: l.Content, Confidence: l.Confidence}
			}
			out, err := json.Marshal(items)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// NewFetchPageTool downloads a cited page as readable text.
func NewFetchPageTool(f PageFetcher) *Tool {
	return &Tool{
		Name:        FetchPage,
		Description: "Download a web page cited as a source and return its readable text, for checking a claim against it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page URL",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			page, err := f.Fetch(ctx, stringArg(args, "url"))
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			if page.Title != "" {
				fmt.Fprintf(&sb, "Title: %s\n", page.Title)
			}
			if page.Description != "" {
				fmt.Fprintf(&sb, "Description: %s\n", page.Description)
			}
			fmt.Fprintf(&sb, "URL: %s\n\n%s", page.URL, page.Text)
			if page.Truncated {
				sb.WriteString("\n\n[truncated]")
			}
			return sb.String(), nil
		},
	}
}

// NewWebSearchTool searches the web for sources on a claim.
func NewWebSearchTool(s WebSearcher) *Tool {
	return &Tool{
		Name:        WebSearch,
		Description: "Search the web for sources on a health claim. Prefer results from medical and public health organizations, and fetch a page before citing it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum results (1-10, default 5)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			count := min(max(intArg(args, "count", search.DefaultCount), 1), 10)
			results, err := s.Search(ctx, stringArg(args, "query"), search.Options{Count: count})
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			out, err := json.Marshal(results)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

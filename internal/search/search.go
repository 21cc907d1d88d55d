// Package search runs web searches for the fact checking agent through
// a configurable backend (SearXNG or Brave).
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// DefaultCount is used when a query does not ask for a result count.
const DefaultCount = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options narrow a query.
type Options struct {
	Count    int    `json:"count,omitempty"`    // zero means DefaultCount
	Language string `json:"language,omitempty"` // ISO 639-1
}

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to the primary provider and falls back to the
// others, in registration order, when it fails.
type Manager struct {
	primary string
	order   []string
	byName  map[string]Provider
	logger  *slog.Logger
}

// NewManager creates a manager whose primary backend is primary. An
// empty primary uses the first registered provider.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		primary: primary,
		byName:  make(map[string]Provider),
		logger:  logger.With("component", "search"),
	}
}

// Register adds p. Registering a name twice replaces the provider.
func (m *Manager) Register(p Provider) {
	if _, ok := m.byName[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.byName[p.Name()] = p
}

// Configured reports whether any provider is registered.
func (m *Manager) Configured() bool { return len(m.order) > 0 }

// Providers returns the registered names in query order.
func (m *Manager) Providers() []string {
	names := slices.Clone(m.order)
	if i := slices.Index(names, m.primary); i > 0 {
		names = slices.Delete(names, i, i+1)
		names = slices.Insert(names, 0, m.primary)
	}
	return names
}

// Search runs query against each provider until one succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if !m.Configured() {
		return nil, errors.New("no search provider configured")
	}
	var errs []error
	for _, name := range m.Providers() {
		results, err := m.byName[name].Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return nil, errors.Join(errs...)
}

package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Call describes one model call to be metered.
type Call struct {
	Model          string
	Provider       string
	Role           string // agent role that made the call
	ConversationID string
	InputTokens    int
	OutputTokens   int
}

// Totals aggregates metered calls.
type Totals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (t *Totals) add(in, out int, cost float64) {
	t.Calls++
	t.InputTokens += in
	t.OutputTokens += out
	t.CostUSD += cost
}

// Recorder persists individual calls.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Meter accumulates token usage and cost across every model call in a
// session, tool rounds included. It is safe for concurrent use.
type Meter struct {
	mu       sync.Mutex
	pricing  Pricing
	recorder Recorder
	logger   *slog.Logger
	totals   Totals
	byModel  map[string]*Totals
}

// NewMeter creates a meter. recorder may be nil.
func NewMeter(pricing Pricing, recorder Recorder, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		pricing:  pricing,
		recorder: recorder,
		logger:   logger,
		byModel:  make(map[string]*Totals),
	}
}

// Add meters one call and returns its cost. A nil Meter is a no-op.
// Persistence failures are logged, never returned.
func (m *Meter) Add(ctx context.Context, c Call) float64 {
	if m == nil {
		return 0
	}
	cost := ComputeCost(c.Model, c.InputTokens, c.OutputTokens, m.pricing)

	m.mu.Lock()
	m.totals.add(c.InputTokens, c.OutputTokens, cost)
	t, ok := m.byModel[c.Model]
	if !ok {
		t = &Totals{}
		m.byModel[c.Model] = t
	}
	t.add(c.InputTokens, c.OutputTokens, cost)
	m.mu.Unlock()

	if m.recorder != nil {
		rec := Record{
			Timestamp:      time.Now(),
			ConversationID: c.ConversationID,
			Model:          c.Model,
			Provider:       c.Provider,
			Role:           c.Role,
			InputTokens:    c.InputTokens,
			OutputTokens:   c.OutputTokens,
			CostUSD:        cost,
		}
		if err := m.recorder.Record(ctx, rec); err != nil {
			m.logger.Warn("failed to persist usage record", "model", c.Model, "error", err)
		}
	}
	return cost
}

// Totals returns the running totals.
func (m *Meter) Totals() Totals {
	if m == nil {
		return Totals{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

// ByModel returns a copy of per-model totals.
func (m *Meter) ByModel() map[string]Totals {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Totals, len(m.byModel))
	for k, v := range m.byModel {
		out[k] = *v
	}
	return out
}

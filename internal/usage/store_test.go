package usage

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/wellpen/internal/config"
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

func testPricing() Pricing {
	return PricingFromConfig(map[string]config.PricingEntry{
		"claude-opus-4-20250514":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
		"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		"default":                  {InputPerMillion: 1.0, OutputPerMillion: 2.0},
	})
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeCost(t *testing.T) {
	p := testPricing()
	tests := []struct {
		name  string
		model string
		in    int
		out   int
		want  float64
	}{
		{"sonnet", "claude-sonnet-4-20250514", 1_000_000, 1_000_000, 18.0},
		{"opus", "claude-opus-4-20250514", 1000, 500, 0.015 + 0.0375},
		{"unknown falls back to default", "qwen3:8b", 1_000_000, 500_000, 1.0 + 1.0},
		{"zero tokens", "claude-sonnet-4-20250514", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeCost(tt.model, tt.in, tt.out, p); !approx(got, tt.want) {
				t.Errorf("ComputeCost = %f, want %f", got, tt.want)
			}
		})
	}

	if got := ComputeCost("anything", 100, 100, Pricing{}); got != 0 {
		t.Errorf("empty pricing cost = %f, want 0", got)
	}
}

func TestMeter_AccumulatesAndRecords(t *testing.T) {
	s := testStore(t)
	m := NewMeter(testPricing(), s, nil)
	ctx := context.Background()

	calls := []Call{
		{Model: "claude-sonnet-4-20250514", Provider: "anthropic", Role: "briefing", ConversationID: "c1", InputTokens: 100, OutputTokens: 10},
		{Model: "claude-sonnet-4-20250514", Provider: "anthropic", Role: "briefing", ConversationID: "c1", InputTokens: 150, OutputTokens: 20},
		{Model: "qwen3:8b", Provider: "ollama", Role: "wellness", ConversationID: "c1", InputTokens: 200, OutputTokens: 30},
	}
	var wantCost float64
	for _, c := range calls {
		wantCost += m.Add(ctx, c)
	}

	tot := m.Totals()
	if tot.Calls != 3 || tot.InputTokens != 450 || tot.OutputTokens != 60 {
		t.Errorf("Totals = %+v", tot)
	}
	if !approx(tot.CostUSD, wantCost) {
		t.Errorf("CostUSD = %f, want %f", tot.CostUSD, wantCost)
	}
	if bm := m.ByModel(); bm["claude-sonnet-4-20250514"].Calls != 2 {
		t.Errorf("ByModel = %+v", bm)
	}

	now := time.Now()
	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 || sum.TotalInputTokens != 450 {
		t.Errorf("Summary = %+v", sum)
	}

	byRole, err := s.SummaryByRole(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByRole: %v", err)
	}
	if byRole["briefing"].TotalRecords != 2 || byRole["wellness"].TotalRecords != 1 {
		t.Errorf("SummaryByRole = %+v", byRole)
	}
}

func TestMeter_ConcurrentAdds(t *testing.T) {
	m := NewMeter(testPricing(), nil, nil)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(context.Background(), Call{Model: "x", InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()
	if got := m.Totals().Calls; got != 50 {
		t.Errorf("Calls = %d, want 50", got)
	}
}

func TestMeter_Nil(t *testing.T) {
	var m *Meter
	if m.Add(context.Background(), Call{Model: "x", InputTokens: 5}) != 0 {
		t.Error("nil meter should cost nothing")
	}
	if m.Totals().Calls != 0 {
		t.Error("nil meter totals should be zero")
	}
}

func TestSummary_Window(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	s.Record(ctx, Record{Timestamp: old, Model: "m", Provider: "p", Role: "briefing", InputTokens: 9})
	s.Record(ctx, Record{Model: "m", Provider: "p", Role: "briefing", InputTokens: 1})

	now := time.Now()
	sum, err := s.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 1 {
		t.Errorf("Summary = %+v, want only the recent record", sum)
	}
}

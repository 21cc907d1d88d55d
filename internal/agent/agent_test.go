package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/wellpen/internal/config"
	"github.com/nugget/wellpen/internal/events"
	"github.com/nugget/wellpen/internal/extract"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/tools"
	"github.com/nugget/wellpen/internal/usage"
)

// mockLLMClient returns pre-configured responses in sequence.
type mockLLMClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	callIndex int
	calls     [][]llm.Message
}

func (m *mockLLMClient) Chat(_ context.Context, _ string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), messages...))
	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mock: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLMClient) Ping(context.Context) error { return nil }

func textResponse(text string, in, out int) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		Segments:     []string{text},
		StopReason:   "end_turn",
		InputTokens:  in,
		OutputTokens: out,
	}
}

func toolResponse(name string, in, out int) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       "call_" + name,
				Function: llm.FunctionCall{Name: name, Arguments: map[string]any{"query": "hips"}},
			}},
		},
		StopReason:   "tool_use",
		InputTokens:  in,
		OutputTokens: out,
	}
}

func newTestRegistry(t *testing.T, tl ...*tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	for _, tool := range tl {
		if err := r.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func lastToolResult(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleTool {
			return msgs[i].Content
		}
	}
	return ""
}

func TestLoop_FailingToolDoesNotAbortTurn(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("search_knowledge", 10, 5),
		textResponse("Here is what I found.", 20, 8),
	}}
	reg := newTestRegistry(t, &tools.Tool{
		Name: "search_knowledge",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("index offline")
		},
	})

	res, err := NewLoop(client, nil).Run(context.Background(), Request{
		Role:    "briefing",
		Model:   "m",
		Tools:   reg,
		History: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "Here is what I found." {
		t.Errorf("Content = %q", res.Content)
	}
	got := lastToolResult(client.calls[1])
	if got != "Error: index offline" {
		t.Errorf("tool result fed back = %q, want error string", got)
	}
	// assistant tool call, tool result, final answer
	if len(res.Messages) != 3 {
		t.Errorf("Messages = %d, want 3", len(res.Messages))
	}
}

func TestLoop_UsageAccumulatesAcrossToolRounds(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("lookup", 100, 10),
		toolResponse("lookup", 150, 20),
		textResponse("done", 200, 30),
	}}
	reg := newTestRegistry(t, &tools.Tool{
		Name:    "lookup",
		Handler: func(context.Context, map[string]any) (string, error) { return "ok", nil },
	})
	pricing := usage.PricingFromConfig(map[string]config.PricingEntry{
		"default": {InputPerMillion: 1, OutputPerMillion: 2},
	})
	meter := usage.NewMeter(pricing, nil, nil)

	res, err := NewLoop(client, nil, WithMeter(meter)).Run(context.Background(), Request{
		Role: "wellness", Model: "m", Tools: reg,
		History: []llm.Message{{Role: llm.RoleUser, Content: "check"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds != 3 {
		t.Errorf("Rounds = %d, want 3", res.Rounds)
	}
	if res.InputTokens != 450 || res.OutputTokens != 60 {
		t.Errorf("tokens = %d/%d, want 450/60", res.InputTokens, res.OutputTokens)
	}
	tot := meter.Totals()
	if tot.Calls != 3 || tot.InputTokens != 450 || tot.OutputTokens != 60 {
		t.Errorf("meter totals = %+v", tot)
	}
	want := 450.0/1e6*1 + 60.0/1e6*2
	if diff := tot.CostUSD - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("CostUSD = %v, want %v", tot.CostUSD, want)
	}
}

func TestLoop_MaxRounds(t *testing.T) {
	var responses []*llm.ChatResponse
	for range 3 {
		responses = append(responses, toolResponse("lookup", 1, 1))
	}
	client := &mockLLMClient{responses: responses}
	reg := newTestRegistry(t, &tools.Tool{
		Name:    "lookup",
		Handler: func(context.Context, map[string]any) (string, error) { return "again", nil },
	})

	_, err := NewLoop(client, nil, WithMaxRounds(3)).Run(context.Background(), Request{
		Model: "m", Tools: reg, History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	var maxErr *ErrMaxRounds
	if !errors.As(err, &maxErr) {
		t.Fatalf("err = %v, want *ErrMaxRounds", err)
	}
	if maxErr.Rounds != 3 || client.callIndex != 3 {
		t.Errorf("Rounds = %d, calls = %d, want 3/3", maxErr.Rounds, client.callIndex)
	}
}

func TestLoop_UnknownToolBecomesErrorString(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("made_up", 1, 1),
		textResponse("ok", 1, 1),
	}}
	_, err := NewLoop(client, nil).Run(context.Background(), Request{
		Model: "m", Tools: newTestRegistry(t), History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := lastToolResult(client.calls[1]); !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, "made_up") {
		t.Errorf("tool result = %q", got)
	}
}

func TestLoop_ToolTimeout(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("slow", 1, 1),
		textResponse("ok", 1, 1),
	}}
	reg := newTestRegistry(t, &tools.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	_, err := NewLoop(client, nil, WithToolTimeout(10*time.Millisecond)).Run(context.Background(), Request{
		Model: "m", Tools: reg, History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := lastToolResult(client.calls[1]); !strings.Contains(got, "deadline exceeded") {
		t.Errorf("tool result = %q, want deadline error", got)
	}
}

func TestLoop_ModelErrorIsFatal(t *testing.T) {
	client := &mockLLMClient{}
	_, err := NewLoop(client, nil).Run(context.Background(), Request{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "model call failed") {
		t.Errorf("err = %v", err)
	}
}

func TestLoop_AgentNameReachesTools(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("whoami", 1, 1),
		textResponse("ok", 1, 1),
	}}
	var seen string
	reg := newTestRegistry(t, &tools.Tool{
		Name: "whoami",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			seen = tools.AgentNameFromContext(ctx)
			return seen, nil
		},
	})
	_, err := NewLoop(client, nil).Run(context.Background(), Request{
		Role: "feedback", Model: "m", Tools: reg, History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != "feedback" {
		t.Errorf("agent name = %q, want feedback", seen)
	}
}

func TestLoop_EmitsEvents(t *testing.T) {
	bus := events.New()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	client := &mockLLMClient{responses: []*llm.ChatResponse{
		toolResponse("lookup", 1, 1),
		textResponse("ok", 1, 1),
	}}
	reg := newTestRegistry(t, &tools.Tool{
		Name:    "lookup",
		Handler: func(context.Context, map[string]any) (string, error) { return "r", nil },
	})
	if _, err := NewLoop(client, nil, WithEventBus(bus)).Run(context.Background(), Request{
		Model: "m", Tools: reg, History: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	}); err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	want := []string{
		events.KindLLMCall, events.KindLLMResponse, events.KindToolCall, events.KindToolDone,
		events.KindLLMCall, events.KindLLMResponse,
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestSession_MultiTurnKeepsHistory(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		textResponse("What platform?", 1, 1),
		textResponse("```json\n{\"brief_complete\": true, \"brief\": {\"platform\": \"instagram\"}}\n```", 1, 1),
	}}
	s := NewSession(Role{Name: "briefing", Model: "m", SystemPrompt: "sys", Kind: extract.KindBrief}, NewLoop(client, nil), nil, nil)

	r1, err := s.Turn(context.Background(), "I want a post")
	if err != nil {
		t.Fatal(err)
	}
	if r1.Outcome.Complete {
		t.Error("first turn should not be complete")
	}
	r2, err := s.Turn(context.Background(), "instagram")
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Outcome.Complete {
		t.Error("second turn should extract a complete brief")
	}

	if got := len(s.History()); got != 4 {
		t.Errorf("history len = %d, want 4", got)
	}
	// system + 3 history messages on the second call
	if got := len(client.calls[1]); got != 4 {
		t.Errorf("second call saw %d messages, want 4", got)
	}
	if client.calls[1][0].Role != llm.RoleSystem {
		t.Errorf("first message role = %q, want system", client.calls[1][0].Role)
	}
}

func TestSession_SingleShotForgets(t *testing.T) {
	client := &mockLLMClient{responses: []*llm.ChatResponse{
		textResponse("a", 1, 1),
		textResponse("b", 1, 1),
	}}
	s := NewSession(Role{Name: "hook", Model: "m", Policy: SingleShot}, NewLoop(client, nil), nil, nil)
	for _, in := range []string{"one", "two"} {
		if _, err := s.Turn(context.Background(), in); err != nil {
			t.Fatal(err)
		}
	}
	if len(client.calls[1]) != 1 {
		t.Errorf("single-shot second call saw %d messages, want 1", len(client.calls[1]))
	}
	if len(s.History()) != 0 {
		t.Error("single-shot session should not keep history")
	}
}

func TestSession_FailedTurnNotCommitted(t *testing.T) {
	client := &mockLLMClient{}
	s := NewSession(Role{Name: "briefing", Model: "m"}, NewLoop(client, nil), nil, nil)
	if _, err := s.Turn(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(s.History()) != 0 {
		t.Errorf("history = %v, want empty after failed turn", s.History())
	}
}

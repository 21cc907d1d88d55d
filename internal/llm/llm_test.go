package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConvertToAnthropic_SystemExtracted(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You write health content."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You write health content." {
		t.Errorf("system = %q", system)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("first role = %s, want user", result[0].Role)
	}
}

func TestConvertToAnthropic_ToolResultsFolded(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Check both facts."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: FunctionCall{Name: "search_knowledge", Arguments: map[string]any{"query": "sleep"}}},
				{ID: "toolu_2", Function: FunctionCall{Name: "search_knowledge", Arguments: map[string]any{"query": "stress"}}},
			},
		},
		{Role: RoleTool, Content: "sleep facts", ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: "stress facts", ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, folded tool results), got %d", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok || len(blocks) != 2 || blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_1" {
		t.Fatalf("assistant blocks = %+v", result[1].Content)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool results as content blocks")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 tool_result blocks in one user turn, got %d", len(results))
	}
	if results[1].ToolUseID != "toolu_2" || results[1].Content != "stress facts" {
		t.Errorf("second result = %+v", results[1])
	}
}

func TestConvertFromAnthropic_Segments(t *testing.T) {
	var resp anthropicResponse
	raw := `{
		"model": "claude-sonnet-4-20250514",
		"role": "assistant",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Let me "},
			{"type": "text", "text": "check."},
			{"type": "tool_use", "id": "toolu_9", "name": "get_learnings", "input": {"limit": 3}}
		],
		"usage": {"input_tokens": 120, "output_tokens": 30}
	}`
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}

	got := convertFromAnthropic(&resp)
	if got.Text() != "Let me check." {
		t.Errorf("Text() = %q", got.Text())
	}
	if len(got.Segments) != 2 {
		t.Errorf("Segments = %v, want 2", got.Segments)
	}
	if !got.HasToolCalls() || got.Message.ToolCalls[0].Function.Name != "get_learnings" {
		t.Errorf("tool calls = %+v", got.Message.ToolCalls)
	}
	if got.StopReason != "tool_use" || got.InputTokens != 120 || got.OutputTokens != 30 {
		t.Errorf("metadata = %q %d %d", got.StopReason, got.InputTokens, got.OutputTokens)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var gotKey, gotVersion string
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"m","role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"done"}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", nil, WithAnthropicBaseURL(srv.URL), WithMaxTokens(1000))
	resp, err := c.Chat(context.Background(), "m", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "search_knowledge",
			"description": "Search",
		},
	}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text() != "done" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if gotKey != "sk-test" || gotVersion != anthropicAPIVersion {
		t.Errorf("headers key=%q version=%q", gotKey, gotVersion)
	}
	if gotReq.System != "sys" || gotReq.MaxTokens != 1000 || len(gotReq.Tools) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error"}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", nil, WithAnthropicBaseURL(srv.URL))
	_, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 529 || !IsTransient(err) {
		t.Errorf("status=%d transient=%v", apiErr.StatusCode, IsTransient(err))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"object", `{"name":"search_knowledge","arguments":{"query":"x"}}`, []string{"search_knowledge"}},
		{"array", `[{"name":"a","arguments":{}},{"name":"b","arguments":{}}]`, []string{"a", "b"}},
		{"tagged", "thinking\n<tool_call>{\"name\":\"fetch_page\",\"arguments\":{}}</tool_call>", []string{"fetch_page"}},
		{"prose", "Here is your brief.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			var names []string
			for _, c := range got {
				names = append(names, c.Function.Name)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedClient) Chat(_ context.Context, model string, _ []Message, _ []map[string]any) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &ChatResponse{Model: model, Segments: []string{"ok"}}, nil
}

func (s *scriptedClient) Ping(context.Context) error { return nil }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		CallTimeout:  time.Second,
	}
}

func TestRetryClient_RecoversFromTransient(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		&APIError{Provider: "anthropic", StatusCode: 429},
		&APIError{Provider: "anthropic", StatusCode: 529},
	}}
	var retries int
	rc := NewRetryClient(inner, fastPolicy(4), nil)
	rc.OnRetry(func(error) { retries++ })

	resp, err := rc.Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if inner.calls != 3 || retries != 2 {
		t.Errorf("calls=%d retries=%d, want 3 and 2", inner.calls, retries)
	}
}

func TestRetryClient_Exhausted(t *testing.T) {
	overloaded := &APIError{Provider: "anthropic", StatusCode: 529}
	inner := &scriptedClient{errs: []error{overloaded, overloaded, overloaded}}
	rc := NewRetryClient(inner, fastPolicy(3), nil)

	_, err := rc.Chat(context.Background(), "m", nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("exhaustion error should wrap the last cause, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryClient_PermanentNotRetried(t *testing.T) {
	inner := &scriptedClient{errs: []error{&APIError{Provider: "anthropic", StatusCode: 400}}}
	rc := NewRetryClient(inner, fastPolicy(4), nil)

	if _, err := rc.Chat(context.Background(), "m", nil, nil); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestMultiClient_Routes(t *testing.T) {
	a := &scriptedClient{}
	b := &scriptedClient{}
	m := NewMultiClient(a)
	m.AddProvider("ollama", b)
	m.AddModel("qwen3:8b", "ollama")

	if _, err := m.Chat(context.Background(), "qwen3:8b", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Chat(context.Background(), "unknown", nil, nil); err != nil {
		t.Fatal(err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("fallback calls=%d routed calls=%d, want 1 each", a.calls, b.calls)
	}
}

func TestMultiClient_ProviderFor(t *testing.T) {
	m := NewMultiClient(&scriptedClient{})
	m.AddProvider("anthropic", &scriptedClient{})
	m.AddModel("claude-sonnet-4-20250514", "anthropic")
	m.AddModel("orphan", "missing")

	for model, want := range map[string]string{
		"claude-sonnet-4-20250514": "anthropic",
		"orphan":                   "default",
		"qwen3:8b":                 "default",
	} {
		if got := m.ProviderFor(model); got != want {
			t.Errorf("ProviderFor(%q) = %q, want %q", model, got, want)
		}
	}
}

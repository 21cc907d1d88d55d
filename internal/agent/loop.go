// Package agent runs model turns: the bounded tool-use loop and the
// per-role sessions the stage coordinator drives.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/wellpen/internal/events"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/metrics"
	"github.com/nugget/wellpen/internal/tools"
	"github.com/nugget/wellpen/internal/usage"
)

const (
	defaultMaxRounds   = 8
	defaultToolTimeout = 30 * time.Second
)

// Request is one turn for the loop to drive to a final answer.
type Request struct {
	Role         string // agent role, for usage, logs and tool context
	Model        string
	SystemPrompt string
	Tools        *tools.Registry // nil offers no tools
	History      []llm.Message   // prior turns plus the new user message
}

// Result is the outcome of a completed turn.
type Result struct {
	Content      string
	Messages     []llm.Message // assistant and tool messages produced this turn
	Rounds       int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Loop drives the model/tool exchange for a single turn. It holds no
// per-turn state and may be shared by every session.
type Loop struct {
	llm         llm.Client
	logger      *slog.Logger
	maxRounds   int
	toolTimeout time.Duration
	meter       *usage.Meter
	bus         *events.Bus
	metrics     *metrics.Metrics
	providerFor func(model string) string
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxRounds bounds the model calls in one turn.
func WithMaxRounds(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithToolTimeout bounds each tool handler call.
func WithToolTimeout(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.toolTimeout = d
		}
	}
}

// WithMeter accumulates usage of every model call into m.
func WithMeter(m *usage.Meter) LoopOption {
	return func(l *Loop) { l.meter = m }
}

// WithEventBus publishes loop activity on b.
func WithEventBus(b *events.Bus) LoopOption {
	return func(l *Loop) { l.bus = b }
}

// WithMetrics records loop instruments on m.
func WithMetrics(m *metrics.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithProviderLookup names the provider serving a model for usage
// records.
func WithProviderLookup(fn func(model string) string) LoopOption {
	return func(l *Loop) { l.providerFor = fn }
}

// NewLoop creates a loop around client.
func NewLoop(client llm.Client, logger *slog.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		llm:         client,
		logger:      logger.With("component", "loop"),
		maxRounds:   defaultMaxRounds,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxRounds reports the configured round limit.
func (l *Loop) MaxRounds() int { return l.maxRounds }

// Run calls the model until it answers without tool calls. Tool
// failures of any kind are reported back to the model as "Error: ..."
// results and never abort the turn. Exceeding the round limit returns
// *ErrMaxRounds.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	messages := make([]llm.Message, 0, len(req.History)+4)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.History...)
	start := len(messages)

	var toolDefs []map[string]any
	if req.Tools != nil {
		toolDefs = req.Tools.List()
	}

	ctx = tools.WithAgentName(ctx, req.Role)
	convID := tools.ConversationIDFromContext(ctx)
	log := l.logger.With("role", req.Role, "conversation_id", convID)

	res := &Result{}
	for round := range l.maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		l.bus.Emit(events.SourceLoop, events.KindLLMCall, map[string]any{
			"role":  req.Role,
			"round": round,
			"model": req.Model,
		})
		log.Debug("llm call", "round", round, "model", req.Model, "msgs", len(messages), "tools", len(toolDefs))

		callStart := time.Now()
		resp, err := l.llm.Chat(ctx, req.Model, messages, toolDefs)
		l.metrics.ObserveLLMCall(req.Role, req.Model, time.Since(callStart), err)
		if err != nil {
			return nil, fmt.Errorf("model call failed (round %d): %w", round, err)
		}

		res.Rounds = round + 1
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		cost := l.meter.Add(ctx, usage.Call{
			Model:          req.Model,
			Provider:       l.provider(req.Model),
			Role:           req.Role,
			ConversationID: convID,
			InputTokens:    resp.InputTokens,
			OutputTokens:   resp.OutputTokens,
		})
		res.CostUSD += cost
		l.metrics.AddUsage(req.Model, resp.InputTokens, resp.OutputTokens, cost)

		log.Info("llm response",
			"round", round,
			"model", req.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"tool_calls", len(resp.Message.ToolCalls),
			"stop_reason", resp.StopReason,
			"elapsed", time.Since(callStart).Round(time.Millisecond),
		)
		l.bus.Emit(events.SourceLoop, events.KindLLMResponse, map[string]any{
			"role":       req.Role,
			"round":      round,
			"model":      req.Model,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"cost_usd":   cost,
			"tool_calls": len(resp.Message.ToolCalls),
		})

		if !resp.HasToolCalls() {
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Text(),
				Timestamp: time.Now(),
			})
			res.Content = resp.Text()
			res.Messages = messages[start:]
			l.metrics.ObserveRounds(req.Role, res.Rounds)
			return res, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text(),
			ToolCalls: resp.Message.ToolCalls,
			Timestamp: time.Now(),
		})
		for _, tc := range resp.Message.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    l.executeTool(ctx, log, req, tc),
				ToolCallID: tc.ID,
				Timestamp:  time.Now(),
			})
		}
	}

	l.metrics.ObserveRounds(req.Role, l.maxRounds)
	log.Warn("tool loop round limit reached", "max_rounds", l.maxRounds)
	return nil, &ErrMaxRounds{Rounds: l.maxRounds}
}

func (l *Loop) executeTool(ctx context.Context, log *slog.Logger, req Request, tc llm.ToolCall) string {
	name := tc.Function.Name
	l.bus.Emit(events.SourceLoop, events.KindToolCall, map[string]any{
		"role": req.Role,
		"tool": name,
	})

	toolCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
	defer cancel()

	toolStart := time.Now()
	var (
		result string
		err    error
	)
	if req.Tools == nil {
		err = &tools.ErrToolUnavailable{ToolName: name}
	} else {
		result, err = req.Tools.Execute(toolCtx, name, tc.Function.Arguments)
	}
	elapsed := time.Since(toolStart)
	l.metrics.ObserveTool(name, elapsed, err)

	if err != nil {
		log.Warn("tool exec failed", "tool", name, "error", err, "elapsed", elapsed.Round(time.Millisecond))
		result = "Error: " + err.Error()
	} else {
		log.Debug("tool exec done", "tool", name, "result_len", len(result), "elapsed", elapsed.Round(time.Millisecond))
	}

	l.bus.Emit(events.SourceLoop, events.KindToolDone, map[string]any{
		"role":        req.Role,
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result
}

func (l *Loop) provider(model string) string {
	if l.providerFor == nil {
		return ""
	}
	return l.providerFor(model)
}

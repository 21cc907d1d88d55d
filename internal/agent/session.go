package agent

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nugget/wellpen/internal/extract"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/tools"
)

// HistoryPolicy controls whether a session remembers earlier turns.
type HistoryPolicy int

const (
	// MultiTurn keeps the conversation history across turns.
	MultiTurn HistoryPolicy = iota
	// SingleShot sends only the current message on every turn.
	SingleShot
)

func (p HistoryPolicy) String() string {
	if p == SingleShot {
		return "single_shot"
	}
	return "multi_turn"
}

// Role configures one agent: who it is, which model it uses, which
// tools it may call and which structured response it produces.
type Role struct {
	Name         string
	Model        string
	SystemPrompt string
	Kind         extract.Kind // empty skips extraction
	Tools        *tools.Registry
	Policy       HistoryPolicy
}

// Reply is one completed session turn.
type Reply struct {
	Text         string
	Outcome      extract.Outcome
	Rounds       int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Session pairs a role with the shared loop and its own history.
type Session struct {
	mu        sync.Mutex
	role      Role
	loop      *Loop
	extractor *extract.Extractor
	history   []llm.Message
	logger    *slog.Logger
}

// NewSession creates a session for role. A nil extractor uses the
// default chain.
func NewSession(role Role, loop *Loop, extractor *extract.Extractor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = extract.New(logger)
	}
	return &Session{
		role:      role,
		loop:      loop,
		extractor: extractor,
		logger:    logger.With("component", "session", "role", role.Name),
	}
}

// Role returns the session's role configuration.
func (s *Session) Role() Role { return s.role }

// Turn sends text to the agent and runs the loop to a final answer.
// History is only committed when the turn succeeds.
func (s *Session) Turn(ctx context.Context, text string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userMsg := llm.Message{Role: llm.RoleUser, Content: text, Timestamp: time.Now()}

	var history []llm.Message
	if s.role.Policy == MultiTurn {
		history = slices.Clip(s.history)
	}
	history = append(history, userMsg)

	res, err := s.loop.Run(ctx, Request{
		Role:         s.role.Name,
		Model:        s.role.Model,
		SystemPrompt: s.role.SystemPrompt,
		Tools:        s.role.Tools,
		History:      history,
	})
	if err != nil {
		return nil, err
	}

	if s.role.Policy == MultiTurn {
		s.history = append(history, res.Messages...)
	}

	reply := &Reply{
		Text:         res.Content,
		Rounds:       res.Rounds,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
	}
	if s.role.Kind != "" {
		reply.Outcome = s.extractor.Extract(s.role.Kind, res.Content)
	}
	s.logger.Debug("turn complete",
		"rounds", res.Rounds,
		"complete", reply.Outcome.Complete,
		"history_len", len(s.history),
	)
	return reply, nil
}

// History returns a copy of the committed history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// LoadHistory replaces the history, e.g. when resuming a conversation.
func (s *Session) LoadHistory(msgs []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = slices.Clone(msgs)
}

// Reset clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Package studio assembles the content pipeline: one agent session per
// stage, each with its own prompt, model and tool set, behind a stage
// coordinator. It also persists and resumes conversations.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/wellpen/internal/agent"
	"github.com/nugget/wellpen/internal/config"
	"github.com/nugget/wellpen/internal/content"
	"github.com/nugget/wellpen/internal/conversation"
	"github.com/nugget/wellpen/internal/coordinator"
	"github.com/nugget/wellpen/internal/events"
	"github.com/nugget/wellpen/internal/extract"
	"github.com/nugget/wellpen/internal/knowledge"
	"github.com/nugget/wellpen/internal/learnings"
	"github.com/nugget/wellpen/internal/metrics"
	"github.com/nugget/wellpen/internal/prompts"
	"github.com/nugget/wellpen/internal/ratelimit"
	"github.com/nugget/wellpen/internal/talents"
	"github.com/nugget/wellpen/internal/tools"
)

// lessonsPerRole caps how many approved learnings reach a prompt.
const lessonsPerRole = 10

// roleTools lists the tools each role may call.
var roleTools = map[string][]string{
	prompts.RoleBriefing:   {tools.SearchKnowledge, tools.GetLearnings},
	prompts.RoleWellness:   {tools.SearchKnowledge, tools.GetLearnings, tools.FetchPage, tools.WebSearch},
	prompts.RolePreview:    {tools.GetLearnings},
	prompts.RoleGeneration: {tools.SearchKnowledge, tools.GetLearnings},
	prompts.RoleFeedback:   {tools.GetLearnings},
}

// Deps are the shared services a studio wires together. Knowledge,
// Learnings, Fetcher, WebSearch, Store and the observability hooks are
// optional.
type Deps struct {
	Loop      *agent.Loop
	Models    config.ModelsConfig
	Talents   []talents.Talent
	Knowledge knowledge.Searcher
	Learnings *learnings.Store
	Fetcher   tools.PageFetcher
	WebSearch tools.WebSearcher
	Store     *conversation.Store
	Limiter   *ratelimit.Limiter
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Studio creates conversations that share one loop and tool registry.
type Studio struct {
	deps      Deps
	registry  *tools.Registry
	extractor *extract.Extractor
	logger    *slog.Logger
}

// New builds a studio. Tools whose backing service is missing are not
// registered, so no role is offered them.
func New(d Deps) (*Studio, error) {
	if d.Loop == nil {
		return nil, errors.New("studio requires an agent loop")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	reg := tools.NewRegistry(d.Logger)
	if d.Knowledge != nil {
		if err := reg.Register(tools.NewSearchKnowledgeTool(d.Knowledge)); err != nil {
			return nil, err
		}
	}
	if d.Learnings != nil {
		if err := reg.Register(tools.NewGetLearningsTool(d.Learnings)); err != nil {
			return nil, err
		}
	}
	if d.Fetcher != nil {
		if err := reg.Register(tools.NewFetchPageTool(d.Fetcher)); err != nil {
			return nil, err
		}
	}
	if d.WebSearch != nil {
		if err := reg.Register(tools.NewWebSearchTool(d.WebSearch)); err != nil {
			return nil, err
		}
	}

	s := &Studio{
		deps:      d,
		registry:  reg,
		extractor: extract.New(d.Logger),
		logger:    d.Logger.With("component", "studio"),
	}
	s.logger.Info("studio ready", "tools", reg.Names(), "talents", len(d.Talents))
	return s, nil
}

// Role builds the agent role for name with talents and approved
// learnings folded into its prompt.
func (s *Studio) Role(ctx context.Context, name string) (agent.Role, error) {
	base, err := prompts.RolePrompt(name)
	if err != nil {
		return agent.Role{}, err
	}

	var lessons string
	if s.deps.Learnings != nil {
		approved, err := s.deps.Learnings.Approved(ctx, name, "", lessonsPerRole)
		if err != nil {
			// A prompt without lessons still works.
			s.logger.Warn("approved learnings unavailable", "role", name, "error", err)
		}
		lessons = learnings.FormatForPrompt(approved)
	}

	stage := coordinator.Stage(name)
	return agent.Role{
		Name:         name,
		Model:        s.deps.Models.ForRole(name),
		SystemPrompt: prompts.Compose(base, talents.ForAgent(s.deps.Talents, name), lessons),
		Kind:         stage.Kind(),
		Tools:        s.registry.FilteredCopy(roleTools[name]),
		Policy:       agent.MultiTurn,
	}, nil
}

// Conversation is one user's run through the pipeline.
type Conversation struct {
	ID     string
	UserID string
	*coordinator.Coordinator

	sessions map[coordinator.Stage]*agent.Session
}

// Session returns the agent session behind stage, or nil.
func (c *Conversation) Session(stage coordinator.Stage) *agent.Session {
	return c.sessions[stage]
}

// Start creates a fresh conversation at the briefing stage.
func (s *Studio) Start(ctx context.Context, userID string) (*Conversation, error) {
	id, err := conversation.NewID()
	if err != nil {
		return nil, err
	}
	return s.build(ctx, id, userID)
}

// Resume restores a saved conversation. It fails with
// conversation.ErrForbidden when the conversation belongs to someone
// else.
func (s *Studio) Resume(ctx context.Context, id, userID string) (*Conversation, error) {
	if s.deps.Store == nil {
		return nil, errors.New("no conversation store configured")
	}
	rec, err := s.deps.Store.Load(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	conv, err := s.build(ctx, rec.ID, rec.UserID)
	if err != nil {
		return nil, err
	}
	if len(rec.State) > 0 {
		if err := conv.ImportState(rec.State); err != nil {
			return nil, fmt.Errorf("restore conversation %s: %w", id, err)
		}
	}
	conv.LoadTranscript(rec.Messages)
	s.logger.Info("conversation resumed", "conversation_id", id, "stage", conv.Stage())
	return conv, nil
}

// Save persists the conversation's transcript and state.
func (s *Studio) Save(ctx context.Context, conv *Conversation) error {
	if s.deps.Store == nil {
		return nil
	}
	st := conv.State()
	return s.deps.Store.Save(ctx, &conversation.Record{
		ID:            conv.ID,
		UserID:        conv.UserID,
		Messages:      conv.Transcript(),
		Stage:         string(st.Stage),
		Brief:         content.ToMap(st.Brief),
		GenerationIDs: st.GenerationIDs,
		State:         conv.ExportState(),
	})
}

// List returns the user's most recently updated conversations.
func (s *Studio) List(ctx context.Context, userID string, limit int) ([]conversation.Summary, error) {
	if s.deps.Store == nil {
		return nil, nil
	}
	return s.deps.Store.List(ctx, userID, limit)
}

func (s *Studio) build(ctx context.Context, id, userID string) (*Conversation, error) {
	sessions := make(map[coordinator.Stage]*agent.Session, len(prompts.Roles))
	agents := make(map[coordinator.Stage]coordinator.Agent, len(prompts.Roles))
	for _, name := range prompts.Roles {
		role, err := s.Role(ctx, name)
		if err != nil {
			return nil, err
		}
		sess := agent.NewSession(role, s.deps.Loop, s.extractor, s.deps.Logger)
		sessions[coordinator.Stage(name)] = sess
		agents[coordinator.Stage(name)] = sess
	}

	hooks, err := s.newHookWriter(ctx)
	if err != nil {
		return nil, err
	}

	opts := []coordinator.Option{
		coordinator.WithHookRegenerator(hooks),
		coordinator.WithEventBus(s.deps.Bus),
		coordinator.WithMetrics(s.deps.Metrics),
	}
	if s.deps.Learnings != nil {
		opts = append(opts, coordinator.WithLearnings(s.deps.Learnings))
	}
	if s.deps.Limiter != nil {
		opts = append(opts, coordinator.WithLimiter(s.deps.Limiter))
	}

	return &Conversation{
		ID:          id,
		UserID:      userID,
		Coordinator: coordinator.New(id, userID, agents, s.deps.Logger, opts...),
		sessions:    sessions,
	}, nil
}

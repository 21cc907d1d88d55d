// Package coordinator is the stage state machine that routes each user
// turn to the current stage's agent and hands the collected content
// records from one stage to the next.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/wellpen/internal/agent"
	"github.com/nugget/wellpen/internal/content"
	"github.com/nugget/wellpen/internal/conversation"
	"github.com/nugget/wellpen/internal/events"
	"github.com/nugget/wellpen/internal/extract"
	"github.com/nugget/wellpen/internal/learnings"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/metrics"
	"github.com/nugget/wellpen/internal/ratelimit"
	"github.com/nugget/wellpen/internal/tools"
)

// Next actions reported with every turn.
const (
	ActionContinue      = "continue"       // stay, keep talking
	ActionCollectFields = "collect_fields" // brief still missing fields
	ActionAdvance       = "advance"        // moved to the next stage
	ActionAwaitApproval = "await_approval" // preview ready, approve or reject
	ActionRegenerated   = "hook_regenerated"
	ActionContentReady  = "content_replaced"
	ActionStartNew      = "start_new"
)

// CompleteMessage is returned for turns after the pipeline finished.
const CompleteMessage = "This content session is already complete. Start a new conversation to create another piece."

// ErrRateLimited is returned when the user has exceeded the request rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// Agent is the conversational agent behind one stage.
type Agent interface {
	Turn(ctx context.Context, text string) (*agent.Reply, error)
}

// HookRegenerator produces a replacement preview after the user rejects
// the current one.
type HookRegenerator interface {
	RegenerateHook(ctx context.Context, brief content.ContentBrief, current content.ContentPreview, feedback string) (content.ContentPreview, error)
}

// NoPreviewError is returned by a HookRegenerator whose model answered
// without a usable preview. Text is what the model said instead.
type NoPreviewError struct {
	Text string
}

func (e *NoPreviewError) Error() string { return "model response contained no preview" }

// LearningSaver stores derived learnings for later review.
type LearningSaver interface {
	Save(ctx context.Context, l learnings.Learning) (string, error)
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	ResponseText  string         `json:"response_text"`
	Stage         Stage          `json:"stage"`
	StageComplete bool           `json:"stage_complete"`
	NextAction    string         `json:"next_action"`
	Data          map[string]any `json:"data,omitempty"`
}

// Coordinator owns the State of one conversation. ProcessTurn is
// serialized; the coordinator is meant to serve one user session.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	agents    map[Stage]Agent
	hooks     HookRegenerator
	learnings LearningSaver
	limiter   *ratelimit.Limiter
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// pending is the JSON context handed to the next agent turn after
	// the stage changed.
	pending    string
	transcript []llm.Message
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHookRegenerator enables preview rejection.
func WithHookRegenerator(h HookRegenerator) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithLearnings saves learnings derived from completed feedback.
func WithLearnings(s LearningSaver) Option {
	return func(c *Coordinator) { c.learnings = s }
}

// WithLimiter rate limits turns per user.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// WithEventBus publishes handoffs and stage changes.
func WithEventBus(b *events.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithMetrics records stage transitions and turn errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a coordinator at the briefing stage.
func New(conversationID, userID string, agents map[Stage]Agent, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		state: State{
			Stage:          StageBriefing,
			ConversationID: conversationID,
			UserID:         userID,
		},
		agents: agents,
		logger: logger.With("component", "coordinator", "conversation_id", conversationID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stage returns the current stage.
func (c *Coordinator) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Stage
}

// State returns a deep copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Transcript returns the user and assistant texts exchanged so far.
func (c *Coordinator) Transcript() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.transcript...)
}

// ProcessTurn handles one user message.
func (c *Coordinator) ProcessTurn(ctx context.Context, text string) (*TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limiter != nil && !c.limiter.Allow(c.state.UserID) {
		c.metrics.IncRateLimited()
		c.logger.Warn("turn rate limited", "user_id", c.state.UserID)
		return nil, ErrRateLimited
	}

	if c.state.Stage == StageComplete {
		return &TurnResult{
			ResponseText:  CompleteMessage,
			Stage:         StageComplete,
			StageComplete: true,
			NextAction:    ActionStartNew,
		}, nil
	}

	ctx = tools.WithConversationID(ctx, c.state.ConversationID)
	res, err := c.route(ctx, text)
	if err != nil {
		c.metrics.IncTurnError(errorKind(err))
		c.logger.Error("turn failed", "stage", c.state.Stage, "error", err)
		return nil, err
	}

	now := time.Now()
	c.transcript = append(c.transcript,
		llm.Message{Role: llm.RoleUser, Content: text, Timestamp: now},
		llm.Message{Role: llm.RoleAssistant, Content: res.ResponseText, Timestamp: now},
	)
	return res, nil
}

func (c *Coordinator) route(ctx context.Context, text string) (*TurnResult, error) {
	switch c.state.Stage {
	case StagePreview:
		switch ClassifyApproval(text) {
		case Approve:
			if c.state.Preview != nil {
				return c.approvePreview(), nil
			}
		case Reject:
			if c.state.Preview != nil && c.hooks != nil {
				return c.regenerateHook(ctx, text)
			}
		}
	case StageFeedback:
		if c.state.Content != nil && wantsRegeneration(text) {
			return c.regenerateContent(ctx, text)
		}
	}
	return c.converse(ctx, c.state.Stage, text)
}

// converse forwards text to the stage's agent and applies its outcome.
func (c *Coordinator) converse(ctx context.Context, stage Stage, text string) (*TurnResult, error) {
	a := c.agents[stage]
	if a == nil {
		return nil, fmt.Errorf("no agent configured for stage %s", stage)
	}

	input := text
	if c.pending != "" {
		input = c.pending + "\n\n" + text
	}

	reply, err := a.Turn(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("stage %s turn: %w", stage, err)
	}
	c.pending = ""

	res := &TurnResult{
		ResponseText: reply.Text,
		Stage:        stage,
		NextAction:   ActionContinue,
		Data:         map[string]any{},
	}
	if reply.Outcome.NextStage != "" {
		res.Data["next_stage_hint"] = reply.Outcome.NextStage
	}
	if err := c.apply(ctx, stage, reply.Outcome, res); err != nil {
		return nil, err
	}
	return res, nil
}

// apply stores what the stage produced and advances when it is done.
func (c *Coordinator) apply(ctx context.Context, stage Stage, out extract.Outcome, res *TurnResult) error {
	switch stage {
	case StageBriefing:
		if out.Payload != nil {
			c.state.Brief.Merge(content.BriefFromPayload(out.Payload))
		}
		if missing := c.state.Brief.MissingFields(); len(missing) > 0 {
			res.Data["missing_fields"] = missing
			if out.Complete {
				res.NextAction = ActionCollectFields
			}
			return nil
		}
		if out.Complete {
			c.advance(res, content.ToMap(c.state.Brief))
		}

	case StageWellness:
		if out.Complete {
			v := content.VerificationFromPayload(out.Payload)
			c.state.Verification = &v
			c.advance(res, content.ToMap(v))
		}

	case StagePreview:
		if out.Complete {
			p := content.PreviewFromPayload(out.Payload)
			c.state.Preview = &p
			res.NextAction = ActionAwaitApproval
			res.Data["preview"] = content.ToMap(p)
		}

	case StageGeneration:
		if out.Complete {
			gc, err := c.storeContent(out.Payload)
			if err != nil {
				return err
			}
			c.advance(res, content.ToMap(gc))
		}

	case StageFeedback:
		if out.Complete {
			fb := content.FeedbackFromPayload(out.Payload)
			if fb.GenerationID == "" && c.state.Content != nil {
				fb.GenerationID = c.state.Content.ID
			}
			c.state.Feedback = &fb
			res.Data["learnings_saved"] = c.saveLearnings(ctx, fb)
			c.advance(res, content.ToMap(fb))
		}
	}
	return nil
}

func (c *Coordinator) storeContent(payload map[string]any) (content.GeneratedContent, error) {
	gc, err := content.ContentFromPayload(payload)
	if err != nil {
		return content.GeneratedContent{}, err
	}
	if gc.PreviewHook == "" && c.state.Preview != nil {
		gc.PreviewHook = c.state.Preview.Hook
	}
	c.state.Content = &gc
	c.state.GenerationIDs = append(c.state.GenerationIDs, gc.ID)
	return gc, nil
}

// advance moves one stage forward, logging exactly one handoff.
func (c *Coordinator) advance(res *TurnResult, payload map[string]any) {
	from := c.state.Stage
	to := from.Next()

	c.state.Handoffs = append(c.state.Handoffs, Handoff{
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	c.state.Stage = to
	c.pending = c.contextFor(to)

	c.metrics.IncTransition(string(from), string(to))
	c.bus.Emit(events.SourceCoordinator, events.KindHandoff, map[string]any{
		"conversation_id": c.state.ConversationID,
		"from":            string(from),
		"to":              string(to),
		"payload":         payload,
	})
	c.logger.Info("stage handoff", "from", from, "to", to)

	res.Stage = to
	res.StageComplete = true
	res.NextAction = ActionAdvance
	res.Data["handoff"] = payload
}

func (c *Coordinator) approvePreview() *TurnResult {
	res := &TurnResult{
		ResponseText: fmt.Sprintf("Approved. I'll write the full piece around this hook:\n\n%s", c.state.Preview.Hook),
		Data:         map[string]any{},
	}
	c.advance(res, content.ToMap(*c.state.Preview))
	return res
}

func (c *Coordinator) regenerateHook(ctx context.Context, feedback string) (*TurnResult, error) {
	p, err := c.newHook(ctx, feedback)
	var np *NoPreviewError
	if errors.As(err, &np) {
		c.logger.Warn("hook regeneration produced no preview, keeping current")
		text := np.Text
		if strings.TrimSpace(text) == "" {
			text = "I couldn't come up with a new hook. Tell me more about what you'd like instead."
		}
		return &TurnResult{
			ResponseText: text,
			Stage:        StagePreview,
			NextAction:   ActionContinue,
			Data:         map[string]any{"preview": content.ToMap(*c.state.Preview)},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		ResponseText: fmt.Sprintf("Here's a new direction:\n\nHook: %s\n\nApprove it, or tell me what to change.", p.Hook),
		Stage:        StagePreview,
		NextAction:   ActionRegenerated,
		Data:         map[string]any{"preview": content.ToMap(p)},
	}, nil
}

func (c *Coordinator) newHook(ctx context.Context, feedback string) (content.ContentPreview, error) {
	if c.hooks == nil {
		return content.ContentPreview{}, errors.New("hook regeneration is not configured")
	}
	p, err := c.hooks.RegenerateHook(ctx, c.state.Brief, deref(c.state.Preview), feedback)
	if err != nil {
		return content.ContentPreview{}, fmt.Errorf("regenerate hook: %w", err)
	}
	c.state.Preview = &p
	c.logger.Info("preview hook regenerated", "hook_type", p.HookType)
	return p, nil
}

// RegenerateHook replaces the stored preview with a new one shaped by
// feedback. The stage does not change.
func (c *Coordinator) RegenerateHook(ctx context.Context, feedback string) (content.ContentPreview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newHook(ctx, feedback)
}

// regenerateContent asks the generation agent for a new version while
// the pipeline waits for feedback. A fresh content object replaces the
// stored one; the stage stays at feedback.
func (c *Coordinator) regenerateContent(ctx context.Context, text string) (*TurnResult, error) {
	a := c.agents[StageGeneration]
	if a == nil {
		return nil, fmt.Errorf("no agent configured for stage %s", StageGeneration)
	}
	reply, err := a.Turn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("regenerate content: %w", err)
	}
	res := &TurnResult{
		ResponseText: reply.Text,
		Stage:        StageFeedback,
		NextAction:   ActionContinue,
		Data:         map[string]any{},
	}
	if reply.Outcome.Complete {
		gc, err := c.storeContent(reply.Outcome.Payload)
		if err != nil {
			return nil, err
		}
		// The feedback agent has not seen this version yet.
		c.pending = c.contextFor(StageFeedback)
		res.NextAction = ActionContentReady
		res.Data["content"] = content.ToMap(gc)
		c.logger.Info("content regenerated", "generation_id", gc.ID)
	}
	return res, nil
}

func (c *Coordinator) saveLearnings(ctx context.Context, fb content.UserFeedback) int {
	derived := content.DeriveLearnings(fb, c.state.Content)
	if c.learnings == nil {
		return 0
	}
	saved := 0
	for _, l := range derived {
		_, err := c.learnings.Save(ctx, learnings.Learning{
			Agent:      l.Agent,
			Type:       l.Type,
			Topic:      firstTag(l.Tags),
			Content:    l.Content,
			Summary:    l.Summary,
			Confidence: l.Confidence,
			Tags:       l.Tags,
			Source:     c.state.ConversationID,
		})
		if err != nil {
			c.logger.Warn("failed to save learning", "type", l.Type, "error", err)
			continue
		}
		saved++
	}
	if saved > 0 {
		c.logger.Info("learnings saved for review", "count", saved)
	}
	return saved
}

// GoBack steps one stage earlier. At briefing it does nothing.
func (c *Coordinator) GoBack() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state.Stage
	to := from.Prev()
	if to == from {
		return from
	}
	c.moveTo(to, "go_back")
	return to
}

// SkipToStage jumps directly to stage. Collected objects are kept;
// anything a skipped stage would have produced stays empty.
func (c *Coordinator) SkipToStage(stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if stage != c.state.Stage {
		c.moveTo(stage, "skip")
	}
	return nil
}

func (c *Coordinator) moveTo(to Stage, reason string) {
	from := c.state.Stage
	c.state.Stage = to
	c.pending = c.contextFor(to)

	c.metrics.IncTransition(string(from), string(to))
	c.bus.Emit(events.SourceCoordinator, events.KindStageChange, map[string]any{
		"conversation_id": c.state.ConversationID,
		"from":            string(from),
		"to":              string(to),
		"reason":          reason,
	})
	c.logger.Info("stage changed", "from", from, "to", to, "reason", reason)
}

// ExportState snapshots the state as a plain nested map.
func (c *Coordinator) ExportState() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.export()
}

// ImportState replaces the state with an exported snapshot. Stage and
// brief must be valid; other objects that fail to decode are dropped.
// The next turn carries the restored context to the current agent.
func (c *Coordinator) ImportState(m map[string]any) error {
	st, skipped, err := importState(m)
	if err != nil {
		return err
	}
	for _, e := range skipped {
		c.logger.Warn("state object not restored", "error", e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.ConversationID == "" {
		st.ConversationID = c.state.ConversationID
	}
	if st.UserID == "" {
		st.UserID = c.state.UserID
	}
	c.state = st
	c.pending = c.contextFor(st.Stage)
	return nil
}

// LoadTranscript restores the exchanged messages of a resumed
// conversation.
func (c *Coordinator) LoadTranscript(msgs []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append([]llm.Message(nil), msgs...)
}

// contextFor renders what the agent for stage should see before the
// user's next message.
func (c *Coordinator) contextFor(stage Stage) string {
	switch stage {
	case StageComplete:
		return ""
	case StageBriefing:
		if isZeroBrief(c.state.Brief) {
			return ""
		}
		return contextBlock(stage, map[string]any{"brief": content.ToMap(c.state.Brief)})
	}
	return contextBlock(stage, c.state.stageContext(stage))
}

func contextBlock(stage Stage, payload map[string]any) string {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ""
	}
	return fmt.Sprintf("[Context handed to the %s stage]\n```json\n%s\n```\n\n[User message]", stage, data)
}

func isZeroBrief(b content.ContentBrief) bool {
	return len(content.ToMap(b)) == 0
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func errorKind(err error) string {
	var maxErr *agent.ErrMaxRounds
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &maxErr):
		return "max_rounds"
	case errors.As(err, &apiErr):
		return "provider"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "other"
}

// PublicMessage turns a fatal turn error into text safe to show the
// user. Details stay in the logs.
func PublicMessage(err error) string {
	var maxErr *agent.ErrMaxRounds
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "You're sending messages faster than I can keep up. Please wait a minute and try again."
	case errors.As(err, &maxErr):
		return "I couldn't finish that request in a reasonable number of steps. Please try rephrasing it."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, conversation.ErrForbidden):
		return "You don't have access to this conversation."
	case errors.Is(err, conversation.ErrNotFound):
		return "That conversation doesn't exist."
	}
	return "Something went wrong on our side. Please try again in a moment."
}

package studio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/wellpen/internal/agent"
	"github.com/nugget/wellpen/internal/config"
	"github.com/nugget/wellpen/internal/content"
	"github.com/nugget/wellpen/internal/conversation"
	"github.com/nugget/wellpen/internal/coordinator"
	"github.com/nugget/wellpen/internal/learnings"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/prompts"
	"github.com/nugget/wellpen/internal/talents"
	"github.com/nugget/wellpen/internal/tools"
)

// roleClient answers according to which role's system prompt it sees.
type roleClient struct {
	mu         sync.Mutex
	systems    []string
	models     []string
	proseHooks bool // hook regeneration answers without JSON
}

func (c *roleClient) Chat(_ context.Context, model string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	system := messages[0].Content
	last := messages[len(messages)-1].Content
	c.systems = append(c.systems, system)
	c.models = append(c.models, model)

	var text string
	switch {
	case strings.Contains(system, "briefing strategist"):
		text = "Great, I have everything.\n```json\n" + `{"brief_complete": true, "brief": {"message": "sleep better", "audience": "shift workers", "platform": "linkedin", "funnel_stage": "awareness", "pain_point": "waking tired", "desired_action": "join the webinar", "tone": "warm"}}` + "\n```"
	case strings.Contains(system, "wellness fact checker"):
		text = "All claims check out.\n```json\n" + `{"verification_complete": true, "verification": {"score": 0.9, "verified_facts": ["adults need 7 hours"]}}` + "\n```"
	case strings.Contains(system, "hook writer") && strings.Contains(last, "rejected the proposed hook") && c.proseHooks:
		text = "Honestly, I think the current hook is the strongest option."
	case strings.Contains(system, "hook writer") && strings.Contains(last, "rejected the proposed hook"):
		text = `{"preview_ready": true, "preview": {"hook": "Night shift stole your mornings?", "hook_type": "question"}}`
	case strings.Contains(system, "hook writer"):
		text = "How about this?\n```json\n" + `{"preview_ready": true, "preview": {"hook": "Tired is not a personality.", "hook_type": "contrarian"}}` + "\n```"
	case strings.Contains(system, "content writer"):
		text = "Here it is.\n```json\n" + `{"content_ready": true, "content": {"text": "Night shift stole your mornings? Here is how to take them back.", "hashtags": ["sleep"]}}` + "\n```"
	case strings.Contains(system, "feedback analyst"):
		text = "Thanks!\n```json\n" + `{"feedback_complete": true, "feedback": {"rating": 5, "worked": ["hook"], "needs_work": ["cta"]}}` + "\n```"
	default:
		return nil, fmt.Errorf("unexpected system prompt %.40q", system)
	}
	return &llm.ChatResponse{
		Model:        model,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		Segments:     []string{text},
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (c *roleClient) Ping(context.Context) error { return nil }

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	studio    *Studio
	client    *roleClient
	learnings *learnings.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	ls, err := learnings.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	cs, err := conversation.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	client := &roleClient{}
	s, err := New(Deps{
		Loop: agent.NewLoop(client, nil),
		Models: config.ModelsConfig{
			Default: "small",
			Roles:   map[string]string{prompts.RoleGeneration: "large"},
		},
		Talents: []talents.Talent{
			{Name: "voice", Content: "Write like a friendly coach."},
			{Name: "claims", Agents: []string{"wellness"}, Content: "Never promise cures."},
		},
		Learnings: ls,
		Store:     cs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{studio: s, client: client, learnings: ls}
}

func turn(t *testing.T, conv *Conversation, text string) *coordinator.TurnResult {
	t.Helper()
	res, err := conv.ProcessTurn(context.Background(), text)
	if err != nil {
		t.Fatalf("ProcessTurn(%q): %v", text, err)
	}
	return res
}

func TestRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wellness, err := f.studio.Role(ctx, prompts.RoleWellness)
	if err != nil {
		t.Fatal(err)
	}
	if wellness.Model != "small" || wellness.Kind != "verification" {
		t.Errorf("wellness role = %+v", wellness)
	}
	for _, want := range []string{"friendly coach", "Never promise cures"} {
		if !strings.Contains(wellness.SystemPrompt, want) {
			t.Errorf("wellness prompt missing %q", want)
		}
	}
	if got := wellness.Tools.Names(); len(got) != 1 || got[0] != tools.GetLearnings {
		t.Errorf("wellness tools = %v, want only get_learnings (no knowledge or fetcher configured)", got)
	}

	gen, err := f.studio.Role(ctx, prompts.RoleGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if gen.Model != "large" {
		t.Errorf("generation model = %q, want large", gen.Model)
	}
	if strings.Contains(gen.SystemPrompt, "Never promise cures") {
		t.Error("wellness-only talent leaked into generation prompt")
	}

	if _, err := f.studio.Role(ctx, "janitor"); err == nil {
		t.Error("unknown role should fail")
	}
}

func TestConversation_FullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.studio.Start(ctx, "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	steps := []struct {
		text   string
		stage  coordinator.Stage
		action string
	}{
		{"I want a post about sleep", coordinator.StageWellness, coordinator.ActionAdvance},
		{"check the claims", coordinator.StagePreview, coordinator.ActionAdvance},
		{"show me a hook", coordinator.StagePreview, coordinator.ActionAwaitApproval},
		{"no, try a different angle", coordinator.StagePreview, coordinator.ActionRegenerated},
		{"looks good", coordinator.StageGeneration, coordinator.ActionAdvance},
		{"write it", coordinator.StageFeedback, coordinator.ActionAdvance},
		{"5 stars, the hook was great", coordinator.StageComplete, coordinator.ActionAdvance},
	}
	for _, s := range steps {
		res := turn(t, conv, s.text)
		if res.Stage != s.stage || res.NextAction != s.action {
			t.Fatalf("%q: stage=%s action=%s, want %s %s", s.text, res.Stage, res.NextAction, s.stage, s.action)
		}
	}

	st := conv.State()
	if st.Preview == nil || st.Preview.Hook != "Night shift stole your mornings?" {
		t.Errorf("preview = %+v, want regenerated hook", st.Preview)
	}
	if st.Content == nil || st.Content.PreviewHook != st.Preview.Hook {
		t.Errorf("content = %+v", st.Content)
	}
	if len(st.Handoffs) != 5 {
		t.Errorf("handoffs = %d, want 5", len(st.Handoffs))
	}

	pending, err := f.learnings.Pending(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) < 2 {
		t.Errorf("pending learnings = %d, want at least 2", len(pending))
	}

	if err := f.studio.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}
	resumed, err := f.studio.Resume(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Stage() != coordinator.StageComplete {
		t.Errorf("resumed stage = %s", resumed.Stage())
	}
	if got := len(resumed.Transcript()); got != 2*len(steps) {
		t.Errorf("resumed transcript = %d messages, want %d", got, 2*len(steps))
	}
	res := turn(t, resumed, "one more?")
	if res.NextAction != coordinator.ActionStartNew {
		t.Errorf("turn after completion = %s", res.NextAction)
	}

	list, err := f.studio.List(ctx, "alice", 10)
	if err != nil || len(list) != 1 || list[0].Stage != "complete" {
		t.Errorf("List = %+v, %v", list, err)
	}
}

func TestResume_OtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.studio.Start(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	turn(t, conv, "I want a post about sleep")
	if err := f.studio.Save(ctx, conv); err != nil {
		t.Fatal(err)
	}

	_, err = f.studio.Resume(ctx, conv.ID, "mallory")
	if !errors.Is(err, conversation.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	resumed, err := f.studio.Resume(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Stage() != coordinator.StageWellness || resumed.State().Brief.Audience != "shift workers" {
		t.Errorf("resumed state = %+v", resumed.State())
	}
}

func TestApprovedLearningsReachNewConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.learnings.Save(ctx, learnings.Learning{
		Agent:   prompts.RolePreview,
		Type:    "correction",
		Content: "Hooks that open with a question outperform statements.",
		Summary: "Open hooks with a question.",
	})
	if err != nil {
		t.Fatal(err)
	}

	role, err := f.studio.Role(ctx, prompts.RolePreview)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(role.SystemPrompt, "Open hooks with a question") {
		t.Fatal("pending learning must not reach prompts")
	}

	if err := f.learnings.Approve(ctx, id); err != nil {
		t.Fatal(err)
	}
	role, err = f.studio.Role(ctx, prompts.RolePreview)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(role.SystemPrompt, "Open hooks with a question") {
		t.Errorf("approved learning missing from prompt:\n%s", role.SystemPrompt)
	}
}

func TestNew_RequiresLoop(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New without a loop should fail")
	}
}

func TestHookWriter_ProseReplyIsNoPreview(t *testing.T) {
	f := newFixture(t)
	f.client.proseHooks = true
	ctx := context.Background()

	hw, err := f.studio.newHookWriter(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = hw.RegenerateHook(ctx, content.ContentBrief{Message: "sleep better"}, content.ContentPreview{Hook: "Tired is not a personality."}, "meh")
	var np *coordinator.NoPreviewError
	if !errors.As(err, &np) {
		t.Fatalf("err = %v, want NoPreviewError", err)
	}
	if !strings.Contains(np.Text, "current hook") {
		t.Errorf("Text = %q", np.Text)
	}
}

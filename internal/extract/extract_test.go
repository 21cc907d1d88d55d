package extract

import (
	"slices"
	"testing"
)

func TestExtract_Fenced(t *testing.T) {
	text := "Here is the brief.\n\n```json\n{\"brief_complete\": true, \"next_stage\": \"wellness\", \"brief\": {\"audience\": \"runners\"}}\n```\nLet me know."

	out := Extract(KindBrief, text)
	if !out.Complete {
		t.Fatal("fenced brief should be complete")
	}
	if out.NextStage != "wellness" {
		t.Errorf("NextStage = %q, want wellness", out.NextStage)
	}
	brief, _ := out.Payload["brief"].(map[string]any)
	if brief["audience"] != "runners" {
		t.Errorf("payload brief = %v", out.Payload["brief"])
	}
}

func TestExtract_FencedWithoutMarkerFallsThrough(t *testing.T) {
	text := "```json\n{\"hook\": \"x\"}\n```"
	out := Extract(KindPreview, text)
	if out.Complete || out.Payload != nil {
		t.Errorf("Outcome = %+v, want zero", out)
	}
}

func TestExtract_PartialBriefIsNotComplete(t *testing.T) {
	text := "```json\n{\"brief_complete\": false, \"brief\": {\"tone\": \"warm\"}}\n```"
	out := Extract(KindBrief, text)
	if out.Complete {
		t.Error("brief_complete=false must not complete")
	}
	if out.Payload == nil {
		t.Error("partial payload should still be returned for merging")
	}
}

func TestExtract_BraceNested(t *testing.T) {
	// Malformed fence forces the brace tier; the nested object and the
	// brace inside a string would defeat a non-greedy regex.
	text := `Done! {"content_ready": true, "content": {"text": "Wake up {early}", "hashtags": ["#a"]}, "meta": {"x": {"y": 1}}} Thanks`

	out := Extract(KindContent, text)
	if !out.Complete {
		t.Fatalf("Outcome = %+v, want complete", out)
	}
	content, _ := out.Payload["content"].(map[string]any)
	if content["text"] != "Wake up {early}" {
		t.Errorf("content.text = %v", content["text"])
	}
}

func TestExtract_BraceWithProseBraces(t *testing.T) {
	text := "Note {this aside}. Result: {\"verification_complete\": true, \"score\": 0.8}"
	out := Extract(KindVerification, text)
	if !out.Complete || out.Payload["score"] != 0.8 {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestExtract_BrokenJSONNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"{",
		`"preview_ready"`,
		`{"preview_ready": tru`,
		"```json\n{not json}\n```",
		`}}}{{{"preview_ready"`,
	}
	for _, in := range inputs {
		out := Extract(KindPreview, in)
		if out.Complete {
			t.Errorf("Extract(%q) complete, want not", in)
		}
	}
}

func TestExtract_HeuristicOnlyForFeedback(t *testing.T) {
	out := Extract(KindBrief, "Rating: 5. Needs work: hook")
	if out.Payload != nil {
		t.Errorf("heuristic applied to brief: %+v", out)
	}
}

func TestFeedbackHeuristic_WorkedAloneIsIncomplete(t *testing.T) {
	text := "I'd give it 4/5\nWhat worked: hook, tone"

	out := Extract(KindFeedback, text)
	if out.Payload[KeyRating] != 4 {
		t.Errorf("rating = %v, want 4", out.Payload[KeyRating])
	}
	if got := out.Payload[KeyWorked].([]string); !slices.Equal(got, []string{"hook", "tone"}) {
		t.Errorf("worked = %v", got)
	}
	if out.Complete {
		t.Error("rating + worked list alone must not complete")
	}

	out = Extract(KindFeedback, text+"\nNeeds work: cta")
	if !out.Complete {
		t.Error("adding needs-work should complete")
	}
	if got := out.Payload[KeyNeedsWork].([]string); !slices.Equal(got, []string{"cta"}) {
		t.Errorf("needs_work = %v", got)
	}
}

func TestFeedbackHeuristic_SameLineHeadings(t *testing.T) {
	tests := []struct {
		text      string
		worked    []string
		needsWork []string
		complete  bool
	}{
		{"4/5\nWhat worked: hook, tone", []string{"hook", "tone"}, nil, false},
		{"4/5. What worked: hook, tone", []string{"hook", "tone"}, nil, false},
		{"5 stars! What I liked: the hook", []string{"the hook"}, nil, false},
		{"Rating: 4. Strengths: tone", []string{"tone"}, nil, false},
		{"Pretty good overall. What worked: the hook", []string{"the hook"}, nil, false},
		{"4/5. What worked: hook. Needs work: cta, length", []string{"hook"}, []string{"cta", "length"}, true},
	}
	for _, tt := range tests {
		out := Extract(KindFeedback, tt.text)
		if got := out.Payload[KeyWorked].([]string); !slices.Equal(got, nonNil(tt.worked)) {
			t.Errorf("%q: worked = %v, want %v", tt.text, got, tt.worked)
		}
		if got := out.Payload[KeyNeedsWork].([]string); !slices.Equal(got, nonNil(tt.needsWork)) {
			t.Errorf("%q: needs_work = %v, want %v", tt.text, got, tt.needsWork)
		}
		if got := out.Payload[KeyText]; got != "" {
			t.Errorf("%q: text = %q, want none", tt.text, got)
		}
		if out.Complete != tt.complete {
			t.Errorf("%q: complete = %v, want %v", tt.text, out.Complete, tt.complete)
		}
	}
}

func TestFeedbackHeuristic_PlaceholderItems(t *testing.T) {
	for _, text := range []string{
		"4/5\nWhat worked: the hook\nIssues: none",
		"4/5\nWhat worked: the hook\nImprovements: n/a",
		"4/5. What worked: the hook. Needs work: nothing",
	} {
		out := Extract(KindFeedback, text)
		if got := out.Payload[KeyNeedsWork].([]string); len(got) != 0 {
			t.Errorf("%q: needs_work = %v, want empty", text, got)
		}
		if out.Complete {
			t.Errorf("%q: placeholder needs-work must not complete", text)
		}
	}
}

func TestFeedbackHeuristic_Ratings(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Overall: 3, it was fine", 3},
		{"score = 2", 2},
		{"I'd say 5/5", 5},
		{"4 out of 5 from me", 4},
		{"Solid 3 stars", 3},
		{"★★★★", 4},
		{"⭐⭐", 2},
		{"★★★★★★★", 0},
		{"no number here", 0},
		{"9/10", 0},
	}
	for _, tt := range tests {
		if got := parseRating(tt.text); got != tt.want {
			t.Errorf("parseRating(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestFeedbackHeuristic_BulletListsAndDedupe(t *testing.T) {
	text := `Rating: 4

**Strengths**
- Hook
- hook; tone
- Clear CTA

Improvements:
1. facts, Facts
2. length

Thanks!`

	worked, needs, _ := parseLists(text)
	if !slices.Equal(worked, []string{"Hook", "tone", "Clear CTA"}) {
		t.Errorf("worked = %v", worked)
	}
	if !slices.Equal(needs, []string{"facts", "length"}) {
		t.Errorf("needs = %v", needs)
	}
}

func TestFeedbackHeuristic_TopicInference(t *testing.T) {
	text := "3 stars. The hook was great. The tone felt flat and the facts were wrong."

	out := Extract(KindFeedback, text)
	worked := out.Payload[KeyWorked].([]string)
	needs := out.Payload[KeyNeedsWork].([]string)
	if !slices.Equal(worked, []string{"hook"}) {
		t.Errorf("worked = %v", worked)
	}
	if !slices.Equal(needs, []string{"facts", "tone"}) && !slices.Equal(needs, []string{"tone", "facts"}) {
		t.Errorf("needs = %v", needs)
	}
	if !out.Complete {
		t.Error("rating plus inferred needs-work should complete")
	}
}

func TestFeedbackHeuristic_Freeform(t *testing.T) {
	out := Extract(KindFeedback, "4/5 - pretty much what I wanted for the launch")
	if got := out.Payload[KeyText]; got != "pretty much what I wanted for the launch" {
		t.Errorf("text = %q", got)
	}
	if !out.Complete {
		t.Error("rating + freeform should complete")
	}

	out = Extract(KindFeedback, "Rating: 5")
	if out.Complete {
		t.Error("rating alone must not complete")
	}
}

func TestFeedback_StructuredWins(t *testing.T) {
	text := "4/5\n```json\n{\"feedback_complete\": true, \"rating\": 5}\n```"
	out := Extract(KindFeedback, text)
	if out.Payload[KeyRating] != float64(5) {
		t.Errorf("structured rating should win, got %v", out.Payload[KeyRating])
	}
}

type panicky struct{}

func (panicky) Name() string                         { return "panicky" }
func (panicky) Extract(Kind, string) (Outcome, bool) { panic("boom") }

func TestExtractor_RecoversStrategyPanic(t *testing.T) {
	e := New(nil, panicky{}, FencedStrategy{})
	out := e.Extract(KindPreview, "```json\n{\"preview_ready\": true}\n```")
	if !out.Complete {
		t.Error("chain should continue past a panicking strategy")
	}
}

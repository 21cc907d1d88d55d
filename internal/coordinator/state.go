package coordinator

import (
	"fmt"
	"slices"
	"time"

	"github.com/nugget/wellpen/internal/content"
)

// Handoff records one forward stage transition and the object that
// crossed it.
type Handoff struct {
	From      Stage          `json:"from"`
	To        Stage          `json:"to"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// State is everything the coordinator has collected for one
// conversation. Objects a stage has not produced yet are nil.
type State struct {
	Stage          Stage
	Brief          content.ContentBrief
	Verification   *content.VerificationResult
	Preview        *content.ContentPreview
	Content        *content.GeneratedContent
	Feedback       *content.UserFeedback
	Handoffs       []Handoff
	GenerationIDs  []string
	ConversationID string
	UserID         string
}

func (s State) clone() State {
	out := s
	out.Brief.KeyMessages = slices.Clone(s.Brief.KeyMessages)
	out.Brief.Programs = slices.Clone(s.Brief.Programs)
	out.Brief.Centers = slices.Clone(s.Brief.Centers)
	out.Handoffs = slices.Clone(s.Handoffs)
	out.GenerationIDs = slices.Clone(s.GenerationIDs)
	if s.Verification != nil {
		v := *s.Verification
		out.Verification = &v
	}
	if s.Preview != nil {
		p := *s.Preview
		out.Preview = &p
	}
	if s.Content != nil {
		c := *s.Content
		out.Content = &c
	}
	if s.Feedback != nil {
		f := *s.Feedback
		out.Feedback = &f
	}
	return out
}

// export renders the state as a plain nested map.
func (s State) export() map[string]any {
	m := map[string]any{
		"stage":           string(s.Stage),
		"brief":           content.ToMap(s.Brief),
		"conversation_id": s.ConversationID,
		"user_id":         s.UserID,
		"generation_ids":  toAnySlice(s.GenerationIDs),
	}
	if s.Verification != nil {
		m["verification"] = content.ToMap(s.Verification)
	}
	if s.Preview != nil {
		m["preview"] = content.ToMap(s.Preview)
	}
	if s.Content != nil {
		m["content"] = content.ToMap(s.Content)
	}
	if s.Feedback != nil {
		m["feedback"] = content.ToMap(s.Feedback)
	}
	handoffs := make([]any, 0, len(s.Handoffs))
	for _, h := range s.Handoffs {
		handoffs = append(handoffs, map[string]any{
			"from":      string(h.From),
			"to":        string(h.To),
			"payload":   h.Payload,
			"timestamp": h.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	m["handoffs"] = handoffs
	return m
}

// importState rebuilds a State from an exported map. Stage and brief
// must decode; every other object is restored when it decodes cleanly
// and skipped otherwise.
func importState(m map[string]any) (State, []error, error) {
	var st State

	name, _ := m["stage"].(string)
	stage, err := ParseStage(name)
	if err != nil {
		return State{}, nil, fmt.Errorf("import state: %w", err)
	}
	st.Stage = stage

	if bm, ok := m["brief"].(map[string]any); ok {
		if err := content.FromMap(bm, &st.Brief); err != nil {
			return State{}, nil, fmt.Errorf("import brief: %w", err)
		}
	}

	st.ConversationID, _ = m["conversation_id"].(string)
	st.UserID, _ = m["user_id"].(string)
	if ids, ok := m["generation_ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				st.GenerationIDs = append(st.GenerationIDs, s)
			}
		}
	} else if ids, ok := m["generation_ids"].([]string); ok {
		st.GenerationIDs = slices.Clone(ids)
	}

	var skipped []error
	restore := func(key string, dst any) bool {
		obj, ok := m[key].(map[string]any)
		if !ok {
			return false
		}
		if err := content.FromMap(obj, dst); err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", key, err))
			return false
		}
		return true
	}
	if v := new(content.VerificationResult); restore("verification", v) {
		st.Verification = v
	}
	if p := new(content.ContentPreview); restore("preview", p) {
		st.Preview = p
	}
	if c := new(content.GeneratedContent); restore("content", c) {
		st.Content = c
	}
	if f := new(content.UserFeedback); restore("feedback", f) {
		st.Feedback = f
	}

	if hs, ok := m["handoffs"].([]any); ok {
		for _, raw := range hs {
			hm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			from, _ := hm["from"].(string)
			to, _ := hm["to"].(string)
			payload, _ := hm["payload"].(map[string]any)
			h := Handoff{From: Stage(from), To: Stage(to), Payload: payload}
			if ts, ok := hm["timestamp"].(string); ok {
				h.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
			}
			st.Handoffs = append(st.Handoffs, h)
		}
	}
	return st, skipped, nil
}

// stageContext is what an agent entering stage needs to know: every
// object produced before it, with zero values for anything skipped.
func (s State) stageContext(stage Stage) map[string]any {
	ctx := map[string]any{}
	if stage.index() > StageBriefing.index() {
		ctx["brief"] = content.ToMap(s.Brief)
	}
	if stage.index() > StageWellness.index() {
		ctx["verification"] = content.ToMap(deref(s.Verification))
	}
	if stage.index() > StagePreview.index() {
		ctx["preview"] = content.ToMap(deref(s.Preview))
	}
	if stage.index() > StageGeneration.index() {
		ctx["content"] = content.ToMap(deref(s.Content))
	}
	return ctx
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerificationResult is the wellness agent's fact check of a brief.
type VerificationResult struct {
	Score               float64  `json:"score"`
	VerifiedFacts       []string `json:"verified_facts,omitempty"`
	UnverifiedClaims    []string `json:"unverified_claims,omitempty"`
	Corrections         []string `json:"corrections,omitempty"`
	SupportingKnowledge []string `json:"supporting_knowledge,omitempty"`
	Recommendations     []string `json:"recommendations,omitempty"`
}

// VerificationFromPayload reads a verification result from fields under
// "verification" or at the top level.
func VerificationFromPayload(payload map[string]any) VerificationResult {
	m := nested(payload, "verification")
	return VerificationResult{
		Score:               num(m, "score"),
		VerifiedFacts:       strs(m, "verified_facts"),
		UnverifiedClaims:    strs(m, "unverified_claims"),
		Corrections:         strs(m, "corrections"),
		SupportingKnowledge: strs(m, "supporting_knowledge"),
		Recommendations:     strs(m, "recommendations"),
	}
}

// ContentPreview is the proposed hook and direction shown for approval.
type ContentPreview struct {
	Hook      string   `json:"hook"`
	HookType  string   `json:"hook_type,omitempty"`
	OpenLoops []string `json:"open_loops,omitempty"`
	Promise   string   `json:"promise,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

// PreviewFromPayload reads a preview from fields under "preview" or at
// the top level.
func PreviewFromPayload(payload map[string]any) ContentPreview {
	m := nested(payload, "preview")
	return ContentPreview{
		Hook:      str(m, "hook"),
		HookType:  str(m, "hook_type"),
		OpenLoops: strs(m, "open_loops"),
		Promise:   str(m, "promise"),
		Direction: str(m, "direction"),
	}
}

// GeneratedContent is one generated post.
type GeneratedContent struct {
	ID                 string    `json:"id"`
	Text               string    `json:"text"`
	WordCount          int       `json:"word_count"`
	Hashtags           []string  `json:"hashtags,omitempty"`
	PreviewHook        string    `json:"preview_hook,omitempty"`
	EngagementEstimate string    `json:"engagement_estimate,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitzero"`
}

// ContentFromPayload reads generated content from fields under
// "content" or at the top level, assigning a new ID. The word count is
// computed from the text when the model omits it.
func ContentFromPayload(payload map[string]any) (GeneratedContent, error) {
	m := nested(payload, "content")
	id, err := uuid.NewV7()
	if err != nil {
		return GeneratedContent{}, fmt.Errorf("generate content ID: %w", err)
	}
	gc := GeneratedContent{
		ID:                 id.String(),
		Text:               str(m, "text"),
		WordCount:          int(num(m, "word_count")),
		Hashtags:           strs(m, "hashtags"),
		PreviewHook:        str(m, "preview_hook"),
		EngagementEstimate: str(m, "engagement_estimate"),
		CreatedAt:          time.Now(),
	}
	if gc.WordCount <= 0 {
		gc.WordCount = CountWords(gc.Text)
	}
	return gc, nil
}

// CountWords counts whitespace separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// UserFeedback is the user's verdict on one generation.
type UserFeedback struct {
	GenerationID string   `json:"generation_id,omitempty"`
	Rating       int      `json:"rating"`
	Text         string   `json:"text,omitempty"`
	Worked       []string `json:"worked,omitempty"`
	NeedsWork    []string `json:"needs_work,omitempty"`
}

// FeedbackFromPayload reads feedback from fields under "feedback" or at
// the top level. Ratings outside 1-5 are clamped.
func FeedbackFromPayload(payload map[string]any) UserFeedback {
	m := nested(payload, "feedback")
	fb := UserFeedback{
		GenerationID: str(m, "generation_id"),
		Rating:       int(num(m, "rating")),
		Text:         str(m, "text"),
		Worked:       strs(m, "worked"),
		NeedsWork:    strs(m, "needs_work"),
	}
	fb.Rating = min(max(fb.Rating, 0), 5)
	return fb
}

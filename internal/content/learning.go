package content

import (
	"fmt"
	"strings"
)

// Learning types.
const (
	LearningPattern    = "pattern"
	LearningPreference = "preference"
	LearningCorrection = "correction"
	LearningStyle      = "style"
	LearningFeedback   = "feedback"
)

// ExtractedLearning is a lesson derived from one piece of feedback.
type ExtractedLearning struct {
	Type       string   `json:"type"`
	Agent      string   `json:"agent,omitempty"` // role the lesson is for; empty for all
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// topicAgents routes a feedback topic to the agent role able to act on
// it. Earlier entries win when an item names several topics.
var topicAgents = []struct {
	topic string
	agent string
}{
	{"hook", "preview"},
	{"facts", "wellness"},
	{"tone", "generation"},
	{"cta", "generation"},
}

func agentFor(item string) string {
	lower := strings.ToLower(item)
	for _, ta := range topicAgents {
		if strings.Contains(lower, ta.topic) {
			return ta.agent
		}
	}
	return "generation"
}

// DeriveLearnings turns feedback on gen into zero or more learnings.
// gen may be nil when feedback arrives without a stored generation.
func DeriveLearnings(fb UserFeedback, gen *GeneratedContent) []ExtractedLearning {
	if fb.Rating == 0 {
		return nil
	}
	ratingTag := fmt.Sprintf("rating:%d", fb.Rating)
	var out []ExtractedLearning

	if fb.Rating >= 4 {
		for _, item := range fb.Worked {
			out = append(out, ExtractedLearning{
				Type:       LearningPattern,
				Agent:      agentFor(item),
				Content:    fmt.Sprintf("Content rated %d/5 worked because of: %s", fb.Rating, item),
				Summary:    "Keep doing: " + item,
				Confidence: 0.5 + 0.1*float64(fb.Rating-3),
				Tags:       []string{strings.ToLower(item), ratingTag},
			})
		}
	}

	for _, item := range fb.NeedsWork {
		out = append(out, ExtractedLearning{
			Type:       LearningCorrection,
			Agent:      agentFor(item),
			Content:    fmt.Sprintf("Content rated %d/5 needed work on: %s", fb.Rating, item),
			Summary:    "Improve: " + item,
			Confidence: 0.8 - 0.1*float64(max(fb.Rating-2, 0)),
			Tags:       []string{strings.ToLower(item), ratingTag},
		})
	}

	if gen != nil && gen.PreviewHook != "" && fb.Rating >= 4 {
		out = append(out, ExtractedLearning{
			Type:       LearningStyle,
			Agent:      "preview",
			Content:    fmt.Sprintf("Hook that earned %d/5: %q", fb.Rating, gen.PreviewHook),
			Summary:    "Hooks like this land: " + gen.PreviewHook,
			Confidence: 0.6,
			Tags:       []string{"hook", ratingTag},
		})
	}

	if text := strings.TrimSpace(fb.Text); text != "" {
		out = append(out, ExtractedLearning{
			Type:       LearningFeedback,
			Content:    text,
			Summary:    truncate(text, 120),
			Confidence: 0.5,
			Tags:       []string{ratingTag},
		})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

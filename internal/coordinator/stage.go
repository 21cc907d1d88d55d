package coordinator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/wellpen/internal/extract"
)

// Stage is a position in the fixed content pipeline.
type Stage string

// Stages in forward order.
const (
	StageBriefing   Stage = "briefing"
	StageWellness   Stage = "wellness"
	StagePreview    Stage = "preview"
	StageGeneration Stage = "generation"
	StageFeedback   Stage = "feedback"
	StageComplete   Stage = "complete"
)

var stageOrder = []Stage{
	StageBriefing,
	StageWellness,
	StagePreview,
	StageGeneration,
	StageFeedback,
	StageComplete,
}

// Stages returns every stage in forward order.
func Stages() []Stage { return slices.Clone(stageOrder) }

func (s Stage) index() int { return slices.Index(stageOrder, s) }

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.index() >= 0 }

// Next returns the following stage. Complete has no successor.
func (s Stage) Next() Stage {
	i := s.index()
	if i < 0 || i == len(stageOrder)-1 {
		return s
	}
	return stageOrder[i+1]
}

// Prev returns the preceding stage. Briefing has no predecessor.
func (s Stage) Prev() Stage {
	i := s.index()
	if i <= 0 {
		return s
	}
	return stageOrder[i-1]
}

// Kind returns the structured response the stage's agent produces.
func (s Stage) Kind() extract.Kind {
	switch s {
	case StageBriefing:
		return extract.KindBrief
	case StageWellness:
		return extract.KindVerification
	case StagePreview:
		return extract.KindPreview
	case StageGeneration:
		return extract.KindContent
	case StageFeedback:
		return extract.KindFeedback
	}
	return ""
}

// ParseStage accepts a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

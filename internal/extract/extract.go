// Package extract recovers structured payloads from an agent's final
// free-text answer. Extraction never fails: when nothing usable is found
// the zero Outcome (empty payload, not complete) is returned.
package extract

import (
	"fmt"
	"log/slog"
)

// Kind names the structured response an agent role is expected to emit.
type Kind string

// Response kinds, one per producing stage.
const (
	KindBrief        Kind = "brief"
	KindVerification Kind = "verification"
	KindPreview      Kind = "preview"
	KindContent      Kind = "content"
	KindFeedback     Kind = "feedback"
)

// NextStageKey is the optional payload key carrying a next-stage hint.
const NextStageKey = "next_stage"

// Marker returns the payload key whose true value marks the response as
// complete.
func (k Kind) Marker() string {
	switch k {
	case KindBrief:
		return "brief_complete"
	case KindVerification:
		return "verification_complete"
	case KindPreview:
		return "preview_ready"
	case KindContent:
		return "content_ready"
	case KindFeedback:
		return "feedback_complete"
	}
	return ""
}

// Outcome is the result of extracting one response.
type Outcome struct {
	Payload   map[string]any
	Complete  bool
	NextStage string
}

// Strategy is one tier of the extraction chain. It reports ok=false
// when it found nothing, letting the next tier try.
type Strategy interface {
	Name() string
	Extract(kind Kind, text string) (Outcome, bool)
}

// Extractor runs an ordered chain of strategies; the first one that
// reports success wins.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// DefaultStrategies returns the standard chain: fenced JSON block, brace
// matched object around the completion marker, then the plain-text
// feedback heuristic.
func DefaultStrategies() []Strategy {
	return []Strategy{FencedStrategy{}, BraceStrategy{}, FeedbackHeuristic{}}
}

// New creates an extractor. With no strategies the default chain is used.
func New(logger *slog.Logger, strategies ...Strategy) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, logger: logger}
}

// Extract runs the chain over text.
func (e *Extractor) Extract(kind Kind, text string) Outcome {
	for _, s := range e.strategies {
		out, ok := e.try(s, kind, text)
		if ok {
			e.logger.Debug("response extracted",
				"kind", kind,
				"strategy", s.Name(),
				"complete", out.Complete,
				"next_stage", out.NextStage,
			)
			return out
		}
	}
	return Outcome{}
}

// try isolates a single strategy so a bug in one tier degrades to a
// fall-through instead of a crashed turn.
func (e *Extractor) try(s Strategy, kind Kind, text string) (out Outcome, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("extraction strategy panicked",
				"strategy", s.Name(), "kind", kind, "panic", fmt.Sprint(r))
			out, ok = Outcome{}, false
		}
	}()
	return s.Extract(kind, text)
}

var defaultExtractor = New(nil)

// Extract runs the default chain.
func Extract(kind Kind, text string) Outcome {
	return defaultExtractor.Extract(kind, text)
}

// outcomeFrom builds an Outcome from a decoded object that carries the
// kind's marker key.
func outcomeFrom(kind Kind, payload map[string]any) (Outcome, bool) {
	marker := kind.Marker()
	v, ok := payload[marker]
	if !ok {
		return Outcome{}, false
	}
	out := Outcome{Payload: payload, Complete: truthy(v)}
	if ns, ok := payload[NextStageKey].(string); ok {
		out.NextStage = ns
	}
	return out, true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes"
	case float64:
		return t != 0
	}
	return false
}

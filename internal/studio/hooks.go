package studio

import (
	"context"
	"encoding/json"

	"github.com/nugget/wellpen/internal/agent"
	"github.com/nugget/wellpen/internal/content"
	"github.com/nugget/wellpen/internal/coordinator"
	"github.com/nugget/wellpen/internal/prompts"
)

// hookWriter regenerates previews with a single-shot session of the
// preview role. Each request carries the full brief so no history is
// needed.
type hookWriter struct {
	session *agent.Session
}

func (s *Studio) newHookWriter(ctx context.Context) (*hookWriter, error) {
	role, err := s.Role(ctx, prompts.RolePreview)
	if err != nil {
		return nil, err
	}
	role.Name = "preview_regen"
	role.Policy = agent.SingleShot
	return &hookWriter{session: agent.NewSession(role, s.deps.Loop, s.extractor, s.deps.Logger)}, nil
}

// RegenerateHook implements coordinator.HookRegenerator.
func (h *hookWriter) RegenerateHook(ctx context.Context, brief content.ContentBrief, current content.ContentPreview, feedback string) (content.ContentPreview, error) {
	reply, err := h.session.Turn(ctx, hookRequest(brief, current, feedback))
	if err != nil {
		return content.ContentPreview{}, err
	}
	if !reply.Outcome.Complete {
		return content.ContentPreview{}, &coordinator.NoPreviewError{Text: reply.Text}
	}
	p := content.PreviewFromPayload(reply.Outcome.Payload)
	if p.Hook == "" {
		return content.ContentPreview{}, &coordinator.NoPreviewError{Text: reply.Text}
	}
	return p, nil
}

func hookRequest(brief content.ContentBrief, current content.ContentPreview, feedback string) string {
	b, _ := json.MarshalIndent(brief, "", "  ")
	p, _ := json.MarshalIndent(current, "", "  ")
	return prompts.HookRegenerationPrompt(string(b), string(p), feedback)
}

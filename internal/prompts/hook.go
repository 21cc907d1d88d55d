package prompts

import "fmt"

// hookRegenerationTemplate asks for a replacement preview after the user
// rejected the current one.
// Format verbs: (1) brief JSON, (2) rejected preview JSON, (3) user feedback.
const hookRegenerationTemplate = `The user rejected the proposed hook. Write a new preview that takes a
clearly different angle while serving the same brief.

Brief:
%s

Rejected preview:
%s

What the user said:
%s

Respond with JSON only:
{"preview_ready": true, "preview": {"hook": "...", "hook_type": "...", "open_loops": [], "promise": "...", "direction": "..."}}`

// HookRegenerationPrompt returns the interpolated hook regeneration prompt.
func HookRegenerationPrompt(briefJSON, previewJSON, feedback string) string {
	return fmt.Sprintf(hookRegenerationTemplate, briefJSON, previewJSON, feedback)
}

package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry offered for this turn.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ErrInvalidArguments is returned when required arguments are missing.
type ErrInvalidArguments struct {
	ToolName string
	Missing  []string
}

// Error implements the error interface.
func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("tool %q missing required argument(s): %s", e.ToolName, strings.Join(e.Missing, ", "))
}

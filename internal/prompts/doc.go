// Package prompts contains the system prompts for Wellpen's agent roles.
//
// Prompt text is Go code rather than config files because it is program
// logic: each role prompt defines the JSON contract its response is
// extracted with, and tests hold the two together. Style guidance that
// operators tune lives in talent files instead.
//
// Convention: one file per prompt category with an exported function
// that accepts the dynamic parts and returns the interpolated prompt.
package prompts

// Package defaulttalents provides the talent files shipped with the
// binary. They load when no talents_dir is configured.
//
// The runtime talent loader lives in internal/talents.
package defaulttalents

import "embed"

// FS contains the shipped talent markdown files.
//
//go:embed *.md
var FS embed.FS

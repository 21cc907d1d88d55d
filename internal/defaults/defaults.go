// Package defaults provides the embedded example configuration written
// by the wellpen init subcommand.
package defaults

import _ "embed"

// ConfigYAML is a commented starter config.yaml.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// Package defaults provides the embedded example configuration for
// the docket init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the annotated starter config that "docket init" lays
// down.
//
//go:embed config.example.yaml
var ConfigYAML []byte

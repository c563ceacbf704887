// Package livestatus embeds the generated default configuration.
//
// The root package exists solely to embed config.default.toml via
// [DefaultConfigTOML]; the daemon copies it into the data directory on first
// run.
package livestatus

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte

package configcenter

import "embed"

// EmbeddedConfigFS provides the default settings file.
//
//go:embed config
var EmbeddedConfigFS embed.FS

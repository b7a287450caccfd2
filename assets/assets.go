// Package assets embeds the static files shipped with the binary.
package assets

import "embed"

//go:embed all:templates
var FS embed.FS

// Package prompts embeds the logistics workflow prompt templates.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS

// Package web embeds the HTML served to browsers that open the WebSocket
// endpoint directly.
package web

import "embed"

//go:embed templates/*.html
var TemplateFiles embed.FS

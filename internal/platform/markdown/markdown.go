// Package markdown renders admin-authored descriptions to HTML.
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var renderer = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))

// Render converts source to HTML without the trailing newline goldmark emits.
// Raw HTML in the source is escaped.
func Render(source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(source), &buf); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

// RenderPtr renders source and returns nil for empty output, matching
// nullable JSON fields.
func RenderPtr(source string) *string {
	out := Render(source)
	if out == "" {
		return nil
	}
	return &out
}

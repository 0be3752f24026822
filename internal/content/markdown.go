// Package content turns landing page markdown into sanitized HTML.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

const maxMarkdownBytes = 64 * 1024

// ErrMarkdownTooLarge indicates the markdown source exceeds the render limit.
var ErrMarkdownTooLarge = errors.New("content: markdown too large")

// MarkdownRenderer converts GitHub-flavored markdown to HTML and sanitizes the result.
type MarkdownRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewMarkdownRenderer builds a renderer with the GFM extension and a UGC sanitizing policy.
func NewMarkdownRenderer() *MarkdownRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &MarkdownRenderer{
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		policy: policy,
	}
}

// Render converts markdown into HTML that is safe to embed in a page.
func (renderer *MarkdownRenderer) Render(markdown string) (template.HTML, error) {
	if len(markdown) > maxMarkdownBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrMarkdownTooLarge, len(markdown))
	}
	var buffer bytes.Buffer
	if err := renderer.markdown.Convert([]byte(markdown), &buffer); err != nil {
		return "", fmt.Errorf("content: convert markdown: %w", err)
	}
	return template.HTML(renderer.policy.SanitizeBytes(buffer.Bytes())), nil
}

package api

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderHTML converts assistant markdown to HTML for clients that show
// rich chat bubbles. Render failures degrade to plain-text delivery;
// the raw response is always present alongside.
func (s *Server) renderHTML(md string) string {
	html, err := renderMarkdown(md)
	if err != nil {
		s.logger.Debug("markdown render failed", "error", err)
		return ""
	}
	return html
}

func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Package docs classifies chat uploads and extracts readable text from
// them. Text-like uploads (txt, md, html) can be attached to a provider
// thread as plain text when the file upload itself is rejected; pdf
// carries no extractable text here and rides on the provider's own
// indexing.
package docs

import (
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowedExt are the upload types the chat endpoint accepts.
var allowedExt = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

// textExt are the types whose content can be attached as plain text.
var textExt = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Allowed reports whether the upload type is accepted at all.
func Allowed(filename string) bool {
	return allowedExt[ext(filename)]
}

// Extract returns the readable text of a text-like upload. ok is false
// for types with no extractable text.
func Extract(filename string, data []byte) (text string, ok bool) {
	e := ext(filename)
	switch {
	case e == ".html" || e == ".htm":
		return FromHTML(string(data)), true
	case textExt[e]:
		return strings.TrimSpace(string(data)), true
	}
	return "", false
}

// hiddenElements are elements whose content never reads as document
// text.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// FromHTML returns the visible text of an HTML document with block
// structure flattened to blank-line-separated paragraphs.
func FromHTML(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return stripTags(raw)
	}
	var b strings.Builder
	walk(doc, &b)
	return collapseWhitespace(b.String())
}

func walk(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if hiddenElements[n.DataAtom] {
			return
		}
		if blockElement(n.DataAtom) && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		b.WriteString("\n")
	}
}

func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Hr:
		return true
	}
	return false
}

// collapseWhitespace squeezes intra-line runs and consecutive blank
// lines left behind by the DOM walk.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	prevBlank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
		} else {
			prevBlank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// stripTags tokenizes malformed HTML and keeps only text tokens.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF and genuine errors end extraction the same way.
			return collapseWhitespace(b.String())
		case html.TextToken:
			b.WriteString(z.Token().Data)
			b.WriteString(" ")
		}
	}
}

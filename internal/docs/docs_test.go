package docs

import (
	"strings"
	"testing"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"notes.pdf", true},
		{"notes.PDF", true},
		{"todo.txt", true},
		{"readme.md", true},
		{"page.html", true},
		{"page.htm", true},
		{"photo.png", false},
		{"archive.zip", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.filename); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	t.Run("plain text passes through", func(t *testing.T) {
		text, ok := Extract("todo.txt", []byte("  buy milk\n"))
		if !ok || text != "buy milk" {
			t.Errorf("got %q, %v", text, ok)
		}
	})
	t.Run("markdown passes through", func(t *testing.T) {
		text, ok := Extract("notes.md", []byte("# Plan\n- milk"))
		if !ok || !strings.Contains(text, "# Plan") {
			t.Errorf("got %q, %v", text, ok)
		}
	})
	t.Run("pdf has no extractable text", func(t *testing.T) {
		if _, ok := Extract("doc.pdf", []byte("%PDF-1.4")); ok {
			t.Error("pdf reported extractable")
		}
	})
}

func TestFromHTML(t *testing.T) {
	raw := `<!doctype html>
<html>
<head><title>Groceries</title><style>p { color: red }</style></head>
<body>
<nav>skip this</nav>
<h1>Shopping</h1>
<p>Buy <b>milk</b> and eggs.</p>
<script>alert("nope")</script>
<ul><li>bread</li><li>butter</li></ul>
</body>
</html>`

	text := FromHTML(raw)

	for _, want := range []string{"Shopping", "Buy", "milk", "eggs", "bread", "butter"} {
		if !strings.Contains(text, want) {
			t.Errorf("extracted text missing %q:\n%s", want, text)
		}
	}
	for _, banned := range []string{"skip this", "alert", "color: red", "Groceries"} {
		if strings.Contains(text, banned) {
			t.Errorf("extracted text contains hidden content %q:\n%s", banned, text)
		}
	}
	if strings.Contains(text, "\n\n\n") {
		t.Error("whitespace not collapsed")
	}
}

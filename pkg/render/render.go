// Package render produces the display HTML stored alongside message text.
package render

import (
	"html"
	"strings"
)

// Renderer turns raw message content into display HTML.
type Renderer interface {
	Render(content string) (string, error)
}

// Escaping is the default renderer: it escapes the content and wraps
// blank-line separated blocks in paragraph tags, preserving single line
// breaks inside a block. Untrusted input never reaches the page unescaped.
type Escaping struct{}

func (Escaping) Render(content string) (string, error) {
	if content == "" {
		return "", nil
	}
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, blk := range blocks {
		blk = strings.TrimSpace(blk)
		if blk == "" {
			continue
		}
		b.WriteString("<p>")
		lines := strings.Split(blk, "\n")
		for i, line := range lines {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(html.EscapeString(line))
		}
		b.WriteString("</p>")
	}
	return b.String(), nil
}

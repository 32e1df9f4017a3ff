// Package markup renders article bodies and formats outbound texts.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// PreviewRunes bounds the excerpt of a channel announcement.
const PreviewRunes = 400

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts a Markdown body to HTML. Raw HTML in the source is
// omitted.
func RenderHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Ellipsize truncates s to n runes and marks the cut.
func Ellipsize(s string, n int) string {
	cut := Truncate(s, n)
	if len(cut) < len(s) {
		return cut + "…"
	}
	return s
}

// Announcement formats the public channel post: title, an excerpt of the
// description (or of the body when there is none) and the canonical URL.
func Announcement(title, description, body, url string) string {
	preview := strings.TrimSpace(description)
	if preview == "" {
		preview = strings.TrimSpace(body)
	}
	return fmt.Sprintf("🆕 %s\n\n%s\n\n%s", title, Truncate(preview, PreviewRunes), url)
}

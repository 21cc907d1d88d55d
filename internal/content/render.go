package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Markdown renders generated content as a markdown document.
func (g GeneratedContent) Markdown() string {
	var b strings.Builder
	if g.PreviewHook != "" {
		fmt.Fprintf(&b, "**%s**\n\n", g.PreviewHook)
	}
	b.WriteString(strings.TrimSpace(g.Text))
	b.WriteString("\n")
	if len(g.Hashtags) > 0 {
		b.WriteString("\n")
		for i, tag := range g.Hashtags {
			if i > 0 {
				b.WriteString(" ")
			}
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}
			// Escape so a leading # is not read as a heading.
			b.WriteString(`\` + tag)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHTML renders generated content to a standalone HTML document.
func RenderHTML(g GeneratedContent) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(g.Markdown()), &buf); err != nil {
		return "", fmt.Errorf("render content %s: %w", g.ID, err)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 16px; line-height: 1.5;">
%s
<footer><small>%d words</small></footer>
</body></html>`, g.ID, buf.String(), g.WordCount), nil
}

package cleaner

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Whitespace collapses runs of spaces and tabs, trims line edges and
// squeezes blank-line runs down to a single blank line.
type Whitespace struct{}

// NewWhitespace returns the whitespace cleaner.
func NewWhitespace() *Whitespace {
	return &Whitespace{}
}

func (*Whitespace) Name() string { return "whitespace" }

func (*Whitespace) Clean(_ context.Context, text string) (string, error) {
	lines := strings.Split(text, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n"), nil
}

// HTMLText strips markup and returns the text content. Script and
// style bodies are dropped entirely.
type HTMLText struct{}

// NewHTMLText returns the HTML-stripping cleaner.
func NewHTMLText() *HTMLText {
	return &HTMLText{}
}

func (*HTMLText) Name() string { return "html_text" }

func (*HTMLText) Clean(_ context.Context, text string) (string, error) {
	var (
		b         strings.Builder
		inTag     bool
		tagDone   bool
		tagName   strings.Builder
		skipUntil string
	)
	lower := strings.ToLower(text)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if skipUntil != "" {
			if ch == '<' && strings.HasPrefix(lower[i:], skipUntil) {
				skipUntil = ""
				inTag = true
				tagDone = false
				tagName.Reset()
			}
			continue
		}
		switch {
		case ch == '<':
			inTag = true
			tagDone = false
			tagName.Reset()
		case ch == '>' && inTag:
			inTag = false
			switch strings.ToLower(tagName.String()) {
			case "script":
				skipUntil = "</script"
			case "style":
				skipUntil = "</style"
			case "br", "/p", "/div", "/li", "/h1", "/h2", "/h3", "/h4", "/tr":
				b.WriteByte('\n')
			}
		case inTag:
			if ch == ' ' || ch == '\t' || ch == '\n' {
				tagDone = true
			} else if !tagDone && tagName.Len() < 8 {
				tagName.WriteByte(ch)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return decodeEntities(b.String()), nil
}

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

// MarkdownRender renders markdown to HTML. Useful when the stored
// artifact should keep structure for downstream display.
type MarkdownRender struct {
	md goldmark.Markdown
}

// NewMarkdownRender returns the markdown cleaner.
func NewMarkdownRender() *MarkdownRender {
	return &MarkdownRender{
		md: goldmark.New(
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

func (*MarkdownRender) Name() string { return "markdown_render" }

func (m *MarkdownRender) Clean(_ context.Context, text string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

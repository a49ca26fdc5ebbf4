package storyboard

import (
	"regexp"
	"strings"
)

type SpanStyle int

const (
	StyleRegular SpanStyle = iota
	StyleBold
	StyleItalic
)

// Span is a run of caption text with a single emphasis style.
type Span struct {
	Text  string
	Style SpanStyle
}

var emphasisRe = regexp.MustCompile(`\*\*.*?\*\*|\*.*?\*`)

// ParseCaption splits inline **bold** and *italic* markup into spans.
// Nested markup is not supported; an unmatched asterisk stays literal.
func ParseCaption(text string) []Span {
	var spans []Span
	add := func(s string, style SpanStyle) {
		if s != "" {
			spans = append(spans, Span{Text: s, Style: style})
		}
	}

	last := 0
	for _, loc := range emphasisRe.FindAllStringIndex(text, -1) {
		add(text[last:loc[0]], StyleRegular)
		m := text[loc[0]:loc[1]]
		if len(m) >= 4 && strings.HasPrefix(m, "**") && strings.HasSuffix(m, "**") {
			add(m[2:len(m)-2], StyleBold)
		} else {
			add(m[1:len(m)-1], StyleItalic)
		}
		last = loc[1]
	}
	add(text[last:], StyleRegular)
	return spans
}

// PlainCaption drops the emphasis markup.
func PlainCaption(text string) string {
	var b strings.Builder
	for _, s := range ParseCaption(text) {
		b.WriteString(s.Text)
	}
	return b.String()
}

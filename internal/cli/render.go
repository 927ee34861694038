// Package cli renders assistant output for the line-based REPL: markdown-ish
// text gets inline styling and fenced code blocks are syntax-highlighted.
package cli

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
)

var (
	inlineCodeRe    = regexp.MustCompile("`([^`]+)`")
	boldRe          = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikethroughRe = regexp.MustCompile(`~~(.+?)~~`)
	linkRe          = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	hrRe            = regexp.MustCompile(`^[-*_]{3,}\s*$`)
	numberedListRe  = regexp.MustCompile(`^(\s*)(\d+)\.\s+(.+)`)
)

// RenderLine styles one non-code line of assistant output.
func RenderLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return ""
	case hrRe.MatchString(trimmed):
		return HrStyle.Render(strings.Repeat("─", 40))
	case strings.HasPrefix(trimmed, "#"):
		heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		return HeadingStyle.Render(ApplyInlineFormatting(heading))
	case strings.HasPrefix(trimmed, "> ") || trimmed == ">":
		quote := strings.TrimPrefix(strings.TrimPrefix(trimmed, "> "), ">")
		return BlockquoteStyle.Render("│ ") + ApplyInlineFormatting(quote)
	}

	if indent, item, ok := parseBulletLine(line); ok {
		return strings.Repeat(" ", indent) + BulletStyle.Render("• ") + ApplyInlineFormatting(item)
	}
	if match := numberedListRe.FindStringSubmatch(line); match != nil {
		return match[1] + BulletStyle.Render(match[2]+". ") + ApplyInlineFormatting(match[3])
	}
	return ApplyInlineFormatting(line)
}

// parseBulletLine detects a bullet list line (-, + or *) with optional
// leading whitespace for nesting.
func parseBulletLine(line string) (indent int, item string, ok bool) {
	for _, ch := range line {
		if ch == ' ' {
			indent++
		} else if ch == '\t' {
			indent += 2
		} else {
			break
		}
	}
	rest := line[indent:]
	if strings.HasPrefix(rest, "- ") || strings.HasPrefix(rest, "+ ") {
		return indent, strings.TrimSpace(rest[2:]), true
	}
	if strings.HasPrefix(rest, "* ") && !hrRe.MatchString(strings.TrimSpace(rest)) {
		return indent, strings.TrimSpace(rest[2:]), true
	}
	return 0, "", false
}

// ApplyInlineFormatting handles inline markdown: `code`, [text](url),
// **bold**, ~~strikethrough~~. Not for code block lines.
func ApplyInlineFormatting(s string) string {
	s = inlineCodeRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := inlineCodeRe.FindStringSubmatch(match)[1]
		return InlineCodeStyle.Render(inner)
	})
	s = linkRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		return LinkTextStyle.Render(parts[1]) + LinkURLStyle.Render(" ("+parts[2]+")")
	})
	s = strikethroughRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := strikethroughRe.FindStringSubmatch(match)[1]
		return StrikethroughStyle.Render(inner)
	})
	s = boldRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := boldRe.FindStringSubmatch(match)[1]
		return BoldInlineStyle.Render(inner)
	})
	return s
}

// RenderCodeBlock syntax-highlights a fenced code block with Chroma and
// prepends subtle line numbers with a gutter.
func RenderCodeBlock(lang, code string) []string {
	if lang == "" || lang == "text" {
		lang = "plaintext"
	}

	var highlighted bytes.Buffer
	if err := quick.Highlight(&highlighted, code, lang, "terminal256", "dracula"); err != nil {
		highlighted.Reset()
		if err := quick.Highlight(&highlighted, code, "plaintext", "terminal256", "dracula"); err != nil {
			highlighted.Reset()
			highlighted.WriteString(code)
		}
	}
	lines := strings.Split(strings.TrimSuffix(highlighted.String(), "\n"), "\n")
	if len(lines) == 0 {
		lines = []string{""}
	}

	out := make([]string, 0, len(lines))
	for i, line := range lines {
		lineNo := CodeGutterStyle.Render(fmt.Sprintf("%3d", i+1))
		gutter := CodeGutterStyle.Render(" │ ")
		out = append(out, lineNo+gutter+line)
	}
	return out
}

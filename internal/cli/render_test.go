package cli

import (
	"strings"
	"testing"
)

func TestRenderLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // substring of the rendered output
	}{
		{"plain", "just text", "just text"},
		{"heading", "## Results", "Results"},
		{"bullet", "- first item", "• first item"},
		{"nested bullet", "  - nested", "  • nested"},
		{"numbered", "2. second", "2. second"},
		{"blockquote", "> quoted words", "│ quoted words"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderLine(tt.in)
			if !strings.Contains(got, tt.want) {
				t.Errorf("RenderLine(%q) = %q, want substring %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderLine_horizontalRule(t *testing.T) {
	got := RenderLine("---")
	if !strings.Contains(got, "─") {
		t.Errorf("got %q", got)
	}
}

func TestApplyInlineFormatting_stripsMarkers(t *testing.T) {
	tests := []struct {
		in       string
		contains string
		excludes string
	}{
		{"use `go test` here", "go test", "`"},
		{"this is **important** now", "important", "**"},
		{"see [docs](https://example.com)", "docs (https://example.com)", "]("},
		{"old ~~gone~~ text", "gone", "~~"},
	}
	for _, tt := range tests {
		got := ApplyInlineFormatting(tt.in)
		if !strings.Contains(got, tt.contains) {
			t.Errorf("ApplyInlineFormatting(%q) = %q, want substring %q", tt.in, got, tt.contains)
		}
		if strings.Contains(got, tt.excludes) {
			t.Errorf("ApplyInlineFormatting(%q) = %q, marker %q not stripped", tt.in, got, tt.excludes)
		}
	}
}

func TestRenderCodeBlock_numbersLines(t *testing.T) {
	lines := RenderCodeBlock("go", "a := 1\nb := 2\nc := 3")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[2], "3") || !strings.Contains(lines[2], "│") {
		t.Errorf("lines[2] = %q", lines[2])
	}
}

func TestRenderCodeBlock_unknownLanguageFallsBack(t *testing.T) {
	lines := RenderCodeBlock("no-such-lang", "plain content")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	for _, token := range []string{"plain", "content"} {
		if !strings.Contains(lines[0], token) {
			t.Errorf("token %q missing in %q", token, lines[0])
		}
	}
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Printer renders a streamed assistant message line by line. Text lines are
// styled as they complete; fenced code blocks are buffered until the closing
// fence so Chroma sees the whole block.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string

	started bool
	partial strings.Builder
	inCode  bool
	lang    string
	codeBuf []string
}

// NewPrinter writes rendered output to w, prefixing the first line of each
// message with prefix.
func NewPrinter(w io.Writer, prefix string) *Printer {
	return &Printer{w: w, prefix: prefix}
}

// Delta consumes one streamed text chunk.
func (p *Printer) Delta(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			p.partial.WriteString(text)
			return
		}
		p.partial.WriteString(text[:idx])
		line := p.partial.String()
		p.partial.Reset()
		p.consumeLine(line)
		text = text[idx+1:]
	}
}

// Done flushes any partial line and an unclosed code block, then resets the
// printer for the next message.
func (p *Printer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.partial.Len() > 0 {
		p.consumeLine(p.partial.String())
		p.partial.Reset()
	}
	if p.inCode {
		p.printCodeBlock()
	}
	p.started = false
	p.inCode = false
	p.lang = ""
	p.codeBuf = nil
}

func (p *Printer) consumeLine(line string) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "```") {
		if p.inCode {
			p.printCodeBlock()
			p.inCode = false
			p.lang = ""
			p.codeBuf = nil
			return
		}
		p.inCode = true
		p.lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
		return
	}
	if p.inCode {
		p.codeBuf = append(p.codeBuf, line)
		return
	}
	p.printLine(RenderLine(line))
}

func (p *Printer) printCodeBlock() {
	for _, line := range RenderCodeBlock(p.lang, strings.Join(p.codeBuf, "\n")) {
		p.printLine(line)
	}
}

func (p *Printer) printLine(line string) {
	if !p.started {
		fmt.Fprint(p.w, p.prefix)
		p.started = true
	}
	fmt.Fprintln(p.w, line)
}

// PrintError writes a styled error line.
func (p *Printer) PrintError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, ErrorStyle.Render("Error: "+msg))
}

// Prompt writes the styled user prompt without a trailing newline.
func (p *Printer) Prompt(prompt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, PromptStyle.Render(prompt))
}

// Package term provides the terminal-facing renderer and the interactive
// approval prompt. Color is enabled only when stdout is a real terminal.
package term

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	ansiReset = "\x1b[0m"
	ansiDim   = "\x1b[2m"
	ansiBold  = "\x1b[1m"
	ansiCyan  = "\x1b[36m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// Renderer writes conversation output to a terminal.
type Renderer struct {
	out   io.Writer
	color bool
}

// NewRenderer builds a renderer on stdout, detecting terminal capability.
func NewRenderer() *Renderer {
	return &Renderer{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// NewRendererTo builds a renderer on an arbitrary writer, without color.
func NewRendererTo(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

func (r *Renderer) paint(code, text string) string {
	if !r.color {
		return text
	}
	return code + text + ansiReset
}

func (r *Renderer) Response(text string) {
	fmt.Fprintln(r.out, text)
}

func (r *Renderer) Thought(text string) {
	fmt.Fprintln(r.out, r.paint(ansiDim, text))
}

func (r *Renderer) ToolCall(tool string, input map[string]any) {
	summary := ""
	if len(input) > 0 {
		if data, err := json.Marshal(input); err == nil {
			summary = " " + string(data)
		}
	}
	fmt.Fprintln(r.out, r.paint(ansiCyan, fmt.Sprintf("→ %s%s", tool, summary)))
}

func (r *Renderer) ToolResult(tool string, result map[string]any) {
	if errText, ok := result["error"].(string); ok {
		fmt.Fprintln(r.out, r.paint(ansiRed, fmt.Sprintf("✗ %s: %s", tool, errText)))
		return
	}
	if output, ok := result["output"].(string); ok && output != "" {
		fmt.Fprintln(r.out, r.paint(ansiGreen, fmt.Sprintf("✓ %s", tool)))
		fmt.Fprintln(r.out, output)
		return
	}
	fmt.Fprintln(r.out, r.paint(ansiGreen, fmt.Sprintf("✓ %s", tool)))
}

func (r *Renderer) Error(text string) {
	fmt.Fprintln(r.out, r.paint(ansiRed, "Error: "+text))
}

func (r *Renderer) Info(text string) {
	fmt.Fprintln(r.out, r.paint(ansiDim, text))
}

func (r *Renderer) Prompt() {
	fmt.Fprint(r.out, r.paint(ansiBold, "> "))
}

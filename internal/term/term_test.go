package term

import (
	"context"
	"io"
	"strings"
	"testing"
)

// neverReader returns a reader that blocks until the writer is closed.
func neverReader() (io.Reader, io.Closer) {
	r, w := io.Pipe()
	return r, w
}

func TestRendererPlainOutput(t *testing.T) {
	var buf strings.Builder
	r := NewRendererTo(&buf)

	r.Response("final answer")
	r.Thought("thinking")
	r.ToolCall("run_local_command", map[string]any{"command": "uptime"})
	r.ToolResult("run_local_command", map[string]any{"output": "up 3 days", "exit_code": 0})
	r.ToolResult("run_local_command", map[string]any{"error": "Operation denied by operator"})
	r.Error("boom")
	r.Info("fyi")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal renderer emitted ANSI codes")
	}
	for _, want := range []string{
		"final answer", "thinking", "→ run_local_command", `"command":"uptime"`,
		"up 3 days", "✗ run_local_command: Operation denied by operator",
		"Error: boom", "fyi",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInteractiveApprover(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "yes\n", true},
		{"y", "y\n", true},
		{"uppercase", "YES\n", true},
		{"no", "n\n", false},
		{"empty line defaults to deny", "\n", false},
		{"eof denies", "", false},
		{"garbage denies", "sure why not\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt strings.Builder
			a := NewInteractiveApproverIO(strings.NewReader(tt.input), &prompt)
			got := a.RequestApproval(context.Background(), "run_local_command",
				map[string]any{"command": "docker restart app"})
			if got != tt.want {
				t.Errorf("approval = %v, want %v", got, tt.want)
			}
			if !strings.Contains(prompt.String(), "Approval required") {
				t.Error("prompt not written")
			}
		})
	}
}

func TestInteractiveApproverCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked, w := neverReader()
	defer w.Close()
	a := NewInteractiveApproverIO(blocked, &strings.Builder{})
	if a.RequestApproval(ctx, "run_local_command", nil) {
		t.Error("cancelled context must deny")
	}
}

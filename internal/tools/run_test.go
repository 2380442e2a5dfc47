package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunLocal_Success(t *testing.T) {
	res := runLocal(context.Background(), "echo hello world")
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if strings.TrimSpace(res.Output) != "hello world" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestRunLocal_QuotedArguments(t *testing.T) {
	res := runLocal(context.Background(), `echo 'one two' three`)
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if strings.TrimSpace(res.Output) != "one two three" {
		t.Errorf("POSIX tokenization broken: %q", res.Output)
	}
}

func TestRunLocal_CommandNotFound(t *testing.T) {
	res := runLocal(context.Background(), "definitely-not-a-real-binary-xyz")
	if res.ExitCode != 127 {
		t.Errorf("exit code = %d, want 127", res.ExitCode)
	}
	if res.Error != "Command not found: definitely-not-a-real-binary-xyz" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunLocal_NonZeroExit(t *testing.T) {
	res := runLocal(context.Background(), "false")
	if res.Success() {
		t.Fatal("false should not succeed")
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
}

func TestRunLocal_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res := runLocal(ctx, "sleep 5")
	if res.ExitCode != 124 {
		t.Errorf("exit code = %d, want 124", res.ExitCode)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunLocal_EmptyAndInvalid(t *testing.T) {
	if res := runLocal(context.Background(), ""); res.Success() {
		t.Error("empty command should fail")
	}
	if res := runLocal(context.Background(), `echo "unterminated`); res.Success() {
		t.Error("bad quoting should fail")
	}
}

func TestToolResult_SuccessLaw(t *testing.T) {
	tests := []struct {
		result ToolResult
		want   bool
	}{
		{ToolResult{Output: "ok", ExitCode: 0}, true},
		{ToolResult{ExitCode: 0}, true},
		{ToolResult{Output: "partial", Error: "warning on stderr", ExitCode: 0}, false},
		{ToolResult{ExitCode: 1}, false},
		{ToolResult{Error: "boom", ExitCode: 2}, false},
	}
	for _, tt := range tests {
		if got := tt.result.Success(); got != tt.want {
			t.Errorf("Success(%+v) = %v, want %v", tt.result, got, tt.want)
		}
	}
}

func TestToolResult_AsMapAlwaysHasOutputAndExitCode(t *testing.T) {
	m := (&ToolResult{ExitCode: 0}).AsMap()
	if _, ok := m["output"]; !ok {
		t.Error("output missing")
	}
	if _, ok := m["exit_code"]; !ok {
		t.Error("exit_code missing")
	}
	if _, ok := m["error"]; ok {
		t.Error("empty error should be omitted")
	}
	m = (&ToolResult{Error: "x", ExitCode: 3}).AsMap()
	if m["error"] != "x" || m["exit_code"] != 3 {
		t.Errorf("unexpected map: %v", m)
	}
}

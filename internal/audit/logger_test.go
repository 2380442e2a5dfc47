package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return logger, path
}

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("invalid audit line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLogger_WritesOneJSONPerLine(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.ToolAttempt("run_local_command", map[string]any{"command": "uptime"})
	logger.ToolSuccess("run_local_command",
		map[string]any{"command": "uptime"},
		map[string]any{"output": "up 3 days", "exit_code": 0})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readRecords(t, path)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["event"] != "tool_attempt" {
		t.Errorf("first event = %v, want tool_attempt", records[0]["event"])
	}
	if records[1]["event"] != "tool_success" {
		t.Errorf("second event = %v, want tool_success", records[1]["event"])
	}
	if records[0]["timestamp"] == nil || records[0]["level"] != "info" {
		t.Errorf("record missing timestamp or level: %v", records[0])
	}
}

func TestLogger_TruncatesLongResultFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Path: path, MaxFieldSize: 10})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	long := strings.Repeat("x", 25)
	result := map[string]any{"output": long, "exit_code": 0}
	logger.ToolSuccess("read_file", nil, result)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readRecords(t, path)
	got, _ := records[0]["result"].(map[string]any)
	want := strings.Repeat("x", 10) + "... (truncated, 25 total)"
	if got["output"] != want {
		t.Errorf("truncated output = %q, want %q", got["output"], want)
	}
	// Caller's map must stay intact.
	if result["output"] != long {
		t.Error("logger mutated the caller's result map")
	}
}

func TestLogger_DeniedAndTimeoutLevels(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.ToolDenied("run_local_command", nil, "sanitizer: command chaining characters (;, &, |)")
	logger.ToolTimeout("run_remote_command", nil, 30)
	logger.ToolError("read_file", nil, "open /x: no such file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readRecords(t, path)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0]["level"] != "warn" || records[0]["reason"] == "" {
		t.Errorf("denied record: %v", records[0])
	}
	if records[1]["level"] != "warn" || !strings.Contains(records[1]["error"].(string), "30s") {
		t.Errorf("timeout record: %v", records[1])
	}
	if records[2]["level"] != "error" {
		t.Errorf("error record: %v", records[2])
	}
}

func TestLogger_SessionBracketing(t *testing.T) {
	logger, path := newTestLogger(t)
	logger.SessionStart("abc123def456")
	logger.SessionEnd("abc123def456")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	records := readRecords(t, path)
	if records[0]["event"] != "session_start" || records[1]["event"] != "session_end" {
		t.Fatalf("unexpected events: %v", records)
	}
	if records[0]["session_id"] != "abc123def456" {
		t.Errorf("session_id = %v", records[0]["session_id"])
	}
}

func TestLogger_DisabledIsNoOp(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.ToolAttempt("run_local_command", nil)
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t)
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	// Logging after close must not panic.
	logger.ToolAttempt("run_local_command", nil)
}

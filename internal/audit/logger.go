package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends Records to a JSON-lines file. Writes are serialized under a
// mutex and flushed per record; Close is idempotent.
type Logger struct {
	cfg Config

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewLogger opens (or creates) the audit log at cfg.Path, creating parent
// directories as needed. A disabled config yields a no-op logger.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxFieldSize <= 0 {
		cfg.MaxFieldSize = DefaultMaxFieldSize
	}
	l := &Logger{cfg: cfg}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: path is required when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	l.file = file
	l.writer = bufio.NewWriter(file)
	return l, nil
}

// Log appends one record. Timestamp and level default when unset. Failures
// are reported on slog rather than to the caller: a broken audit log must not
// turn into a tool error the model reacts to.
func (l *Logger) Log(rec *Record) {
	if l == nil || !l.cfg.Enabled || rec == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}
	rec.Result = l.truncateMap(rec.Result)

	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("audit record marshal failed", "event", rec.Event, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		slog.Error("audit write failed", "error", err)
		return
	}
	if err := l.writer.Flush(); err != nil {
		slog.Error("audit flush failed", "error", err)
	}
}

// Close flushes and closes the underlying file. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// truncateMap bounds string values in result bodies. The map is copied so the
// caller's result (which still goes to the user in full) is untouched.
func (l *Logger) truncateMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && len(s) > l.cfg.MaxFieldSize {
			out[k] = fmt.Sprintf("%s... (truncated, %d total)", s[:l.cfg.MaxFieldSize], len(s))
			continue
		}
		out[k] = v
	}
	return out
}

// ToolAttempt records that a sanitized input is about to be authorized.
func (l *Logger) ToolAttempt(tool string, input map[string]any) {
	l.Log(&Record{Event: EventToolAttempt, Level: LevelInfo, Tool: tool, Input: input})
}

// ToolSuccess records an execution that returned success.
func (l *Logger) ToolSuccess(tool string, input, result map[string]any) {
	l.Log(&Record{Event: EventToolSuccess, Level: LevelInfo, Tool: tool, Input: input, Result: result})
}

// ToolDenied records a rejection by the sanitizer, allowlist or operator.
func (l *Logger) ToolDenied(tool string, input map[string]any, reason string) {
	l.Log(&Record{Event: EventToolDenied, Level: LevelWarn, Tool: tool, Input: input, Reason: reason})
}

// ToolError records an execution failure or error-carrying result.
func (l *Logger) ToolError(tool string, input map[string]any, errMsg string) {
	l.Log(&Record{Event: EventToolError, Level: LevelError, Tool: tool, Input: input, Error: errMsg})
}

// ToolTimeout records a per-call deadline elapse.
func (l *Logger) ToolTimeout(tool string, input map[string]any, seconds int) {
	l.Log(&Record{
		Event: EventToolTimeout,
		Level: LevelWarn,
		Tool:  tool,
		Input: input,
		Error: fmt.Sprintf("timed out after %ds", seconds),
	})
}

// SessionStart brackets the beginning of a conversation session.
func (l *Logger) SessionStart(sessionID string) {
	l.Log(&Record{Event: EventSessionStart, Level: LevelInfo, SessionID: sessionID})
}

// SessionEnd brackets the end of a conversation session.
func (l *Logger) SessionEnd(sessionID string) {
	l.Log(&Record{Event: EventSessionEnd, Level: LevelInfo, SessionID: sessionID})
}

// Package audit writes the append-only JSON-lines log of every tool attempt
// and outcome. One record per line, flushed as written, so the file is
// greppable while the agent is running and survives a crash mid-session.
package audit

import "time"

// Level is the severity attached to each audit record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventType discriminates audit records.
type EventType string

const (
	EventToolAttempt  EventType = "tool_attempt"
	EventToolSuccess  EventType = "tool_success"
	EventToolDenied   EventType = "tool_denied"
	EventToolError    EventType = "tool_error"
	EventToolTimeout  EventType = "tool_timeout"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

// Record is one line in the audit log.
type Record struct {
	Event     EventType      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Config controls the audit logger.
type Config struct {
	// Enabled turns audit logging on. When false the logger is a no-op.
	Enabled bool
	// Path is the audit log file. Parent directories are created on open.
	Path string
	// MaxFieldSize caps string values inside result bodies; longer values are
	// truncated with a marker. Zero means DefaultMaxFieldSize.
	MaxFieldSize int
}

// DefaultMaxFieldSize bounds audit file growth from large tool outputs.
const DefaultMaxFieldSize = 2000

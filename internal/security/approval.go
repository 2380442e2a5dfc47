package security

import (
	"context"
	"log/slog"
	"strings"
)

// ApprovalMode selects how the dispatch kernel resolves approval requests
// when no human can answer.
type ApprovalMode string

const (
	// ApprovalAutoDeny denies every approval-gated operation without asking.
	ApprovalAutoDeny ApprovalMode = "auto_deny"
	// ApprovalInteractive prompts on the controlling terminal.
	ApprovalInteractive ApprovalMode = "interactive"
)

// Approver answers approval requests for operations that matched a
// destructive pattern. Implementations must be non-blocking with respect to
// the rest of the agent: a prompt that waits on stdin runs on its own
// goroutine behind this call.
type Approver interface {
	RequestApproval(ctx context.Context, toolName string, input map[string]any) bool
}

// AutoDeny is the Approver for unattended daemons: it logs and denies.
type AutoDeny struct{}

func (AutoDeny) RequestApproval(_ context.Context, toolName string, _ map[string]any) bool {
	slog.Warn("approval auto-denied", "tool", toolName, "mode", ApprovalAutoDeny)
	return false
}

// alwaysSafeTools never require approval regardless of their input: they are
// read-only against the inventory or a metrics endpoint.
var alwaysSafeTools = map[string]bool{
	"list_servers":  true,
	"query_metrics": true,
}

// RequiresApproval reports whether any string leaf of the input contains one
// of the destructive patterns (case-insensitive substring match). Mappings and
// sequences are walked recursively; non-string leaves are ignored. A match is
// logged as a structured approval_required event.
func RequiresApproval(toolName string, input map[string]any, patterns []string) bool {
	if alwaysSafeTools[toolName] || len(patterns) == 0 {
		return false
	}
	matched := findPattern(input, patterns)
	if matched == "" {
		return false
	}
	slog.Info("approval_required", "tool", toolName, "pattern", matched)
	return true
}

func findPattern(value any, patterns []string) string {
	switch v := value.(type) {
	case string:
		lowered := strings.ToLower(v)
		for _, p := range patterns {
			if p != "" && strings.Contains(lowered, strings.ToLower(p)) {
				return p
			}
		}
	case map[string]any:
		for _, item := range v {
			if m := findPattern(item, patterns); m != "" {
				return m
			}
		}
	case []any:
		for _, item := range v {
			if m := findPattern(item, patterns); m != "" {
				return m
			}
		}
	case []string:
		for _, item := range v {
			if m := findPattern(item, patterns); m != "" {
				return m
			}
		}
	}
	return ""
}

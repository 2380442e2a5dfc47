package security

import (
	"context"
	"testing"
)

var destructivePatterns = []string{"rm -rf", "restart", "DROP TABLE", "shutdown"}

func TestRequiresApproval_TopLevelMatch(t *testing.T) {
	input := map[string]any{"command": "docker restart app"}
	if !RequiresApproval("run_local_command", input, destructivePatterns) {
		t.Error("expected approval requirement for restart")
	}
}

func TestRequiresApproval_CaseInsensitive(t *testing.T) {
	input := map[string]any{"command": "mysql -e 'drop table users'"}
	if !RequiresApproval("run_local_command", input, destructivePatterns) {
		t.Error("pattern match must be case-insensitive")
	}
}

func TestRequiresApproval_NestedStructures(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  bool
	}{
		{
			"nested_map",
			map[string]any{"outer": map[string]any{"inner": "systemctl restart nginx"}},
			true,
		},
		{
			"sequence",
			map[string]any{"args": []any{"status", "rm -rf /data"}},
			true,
		},
		{
			"string_slice",
			map[string]any{"args": []string{"shutdown -h now"}},
			true,
		},
		{
			"non_string_leaves_ignored",
			map[string]any{"count": 3, "ratio": 1.5, "flag": true},
			false,
		},
		{
			"clean",
			map[string]any{"command": "uptime"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequiresApproval("run_remote_command", tt.input, destructivePatterns); got != tt.want {
				t.Errorf("RequiresApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequiresApproval_AlwaysSafeTools(t *testing.T) {
	input := map[string]any{"query": "rate(restart_total[5m])"}
	for _, tool := range []string{"list_servers", "query_metrics"} {
		if RequiresApproval(tool, input, destructivePatterns) {
			t.Errorf("tool %q must never require approval", tool)
		}
	}
}

func TestRequiresApproval_EmptyPatternList(t *testing.T) {
	input := map[string]any{"command": "rm -rf /"}
	if RequiresApproval("run_local_command", input, nil) {
		t.Error("empty pattern list means no tool requires approval")
	}
}

func TestAutoDenyApprover(t *testing.T) {
	var approver AutoDeny
	if approver.RequestApproval(context.Background(), "run_local_command", nil) {
		t.Error("AutoDeny must deny")
	}
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// ListServers describes the inventory to the model. It touches nothing on any
// host, which is why the approval gate treats it as always safe.
type ListServers struct {
	inv *inventory.Inventory
}

func NewListServers(inv *inventory.Inventory) *ListServers {
	return &ListServers{inv: inv}
}

func (t *ListServers) Name() string { return "list_servers" }

func (t *ListServers) Description() string {
	return "List all servers in the inventory with their host, role and services."
}

func (t *ListServers) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *ListServers) Execute(_ context.Context, _ map[string]any) (*ToolResult, error) {
	var b strings.Builder
	for _, name := range t.inv.Names() {
		s := t.inv.Servers[name]
		location := s.Host
		if s.IsLocal() {
			location = "local (bastion host)"
		}
		fmt.Fprintf(&b, "%s: %s, role=%s", name, location, s.Role)
		if len(s.Services) > 0 {
			fmt.Fprintf(&b, ", services=%s", strings.Join(s.Services, ","))
		}
		if s.MetricsURL != "" {
			b.WriteString(", metrics=yes")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return &ToolResult{Output: "No servers in inventory."}, nil
	}
	return &ToolResult{Output: strings.TrimRight(b.String(), "\n")}, nil
}

// statusCommands are the fixed probes behind get_server_status. They bypass
// the role allowlist: the tool offers no way to vary them.
var statusCommands = []struct {
	title   string
	command string
}{
	{"uptime", "uptime"},
	{"disk", "df -h"},
	{"memory", "free -h"},
}

// ServerStatus runs a fixed set of health probes on one server.
type ServerStatus struct {
	inv *inventory.Inventory
}

func NewServerStatus(inv *inventory.Inventory) *ServerStatus {
	return &ServerStatus{inv: inv}
}

func (t *ServerStatus) Name() string { return "get_server_status" }

func (t *ServerStatus) Description() string {
	return "Get load, disk and memory status for a server (uptime, df -h, free -h)."
}

func (t *ServerStatus) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"server": {
				"type": "string",
				"description": "Inventory name of the server"
			}
		},
		"required": ["server"]
	}`)
}

func (t *ServerStatus) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	if _, ok := t.inv.Server(serverName); !ok {
		return failf(1, "Unknown server: %s", serverName), nil
	}

	var sections []string
	failures := 0
	for _, probe := range statusCommands {
		res := runOn(ctx, t.inv, serverName, probe.command)
		body := res.Output
		if !res.Success() {
			failures++
			body = res.Error
		}
		sections = append(sections, fmt.Sprintf("== %s ==\n%s", probe.title, strings.TrimRight(body, "\n")))
	}
	result := &ToolResult{Output: strings.Join(sections, "\n\n")}
	if failures == len(statusCommands) {
		result.Error = fmt.Sprintf("All status probes failed on %s", serverName)
		result.ExitCode = 1
	}
	return result, nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// ServiceStatus shows systemd unit status on a server.
type ServiceStatus struct {
	inv *inventory.Inventory
}

func NewServiceStatus(inv *inventory.Inventory) *ServiceStatus {
	return &ServiceStatus{inv: inv}
}

func (t *ServiceStatus) Name() string { return "service_status" }

func (t *ServiceStatus) Description() string {
	return "Show systemd status for a service on a server."
}

func (t *ServiceStatus) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"server": {
				"type": "string",
				"description": "Inventory name of the server"
			},
			"service": {
				"type": "string",
				"description": "Systemd unit name, e.g. nginx"
			}
		},
		"required": ["server", "service"]
	}`)
}

func (t *ServiceStatus) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	service, err := stringField(input, "service")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	command := fmt.Sprintf("systemctl status %s --no-pager", service)
	result := runOn(ctx, t.inv, serverName, command)
	// systemctl exits 3 for stopped units; that is an answer, not a failure.
	if result.ExitCode == 3 && result.Output != "" {
		result.Error = ""
		result.ExitCode = 0
	}
	return result, nil
}

// journalLineCap bounds journal output regardless of the requested window.
const journalLineCap = 200

// ServiceJournal fetches recent journal entries for a unit.
type ServiceJournal struct {
	inv *inventory.Inventory
}

func NewServiceJournal(inv *inventory.Inventory) *ServiceJournal {
	return &ServiceJournal{inv: inv}
}

func (t *ServiceJournal) Name() string { return "service_journal" }

func (t *ServiceJournal) Description() string {
	return "Fetch recent journal log entries for a service on a server."
}

func (t *ServiceJournal) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"server": {
				"type": "string",
				"description": "Inventory name of the server"
			},
			"service": {
				"type": "string",
				"description": "Systemd unit name, e.g. nginx"
			},
			"since": {
				"type": "string",
				"description": "Relative start, e.g. '1 hour ago' (default '1 hour ago')"
			}
		},
		"required": ["server", "service"]
	}`)
}

func (t *ServiceJournal) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	service, err := stringField(input, "service")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	since := optionalString(input, "since", "1 hour ago")
	command := fmt.Sprintf("journalctl -u %s --since '%s' --no-pager -n %d", service, since, journalLineCap)
	return runOn(ctx, t.inv, serverName, command), nil
}

package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// RemoteCommand runs an allowlisted command on a fleet server over SSH.
type RemoteCommand struct {
	inv *inventory.Inventory
}

func NewRemoteCommand(inv *inventory.Inventory) *RemoteCommand {
	return &RemoteCommand{inv: inv}
}

func (t *RemoteCommand) Name() string { return "run_remote_command" }

func (t *RemoteCommand) Description() string {
	return "Run a command on a named server from the inventory over SSH. The " +
		"command must be permitted by the server role's allowlist."
}

func (t *RemoteCommand) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"server": {
				"type": "string",
				"description": "Inventory name of the target server"
			},
			"command": {
				"type": "string",
				"description": "The command to run on the server"
			}
		},
		"required": ["server", "command"]
	}`)
}

func (t *RemoteCommand) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	command, err := stringField(input, "command")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	server, ok := t.inv.Server(serverName)
	if !ok {
		return failf(1, "Unknown server: %s", serverName), nil
	}
	if server.IsLocal() {
		return runLocal(ctx, command), nil
	}
	return runRemote(ctx, server, command), nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// DockerPs lists containers on a server with a fixed argv. Varying input
// (only the target server) is sanitized upstream; the command itself never
// includes user-controlled text.
type DockerPs struct {
	inv *inventory.Inventory
}

func NewDockerPs(inv *inventory.Inventory) *DockerPs {
	return &DockerPs{inv: inv}
}

func (t *DockerPs) Name() string { return "docker_ps" }

func (t *DockerPs) Description() string {
	return "List Docker containers on a server (running and stopped)."
}

func (t *DockerPs) Schema() json.RawMessage {
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

func (t *DockerPs) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	command := "docker ps -a --format 'table {{.Names}}\t{{.Image}}\t{{.Status}}\t{{.Ports}}'"
	return runOn(ctx, t.inv, serverName, command), nil
}

// defaultLogTail bounds docker_logs output when the model gives no tail count.
const defaultLogTail = 100

// DockerLogs fetches recent logs from one container.
type DockerLogs struct {
	inv *inventory.Inventory
}

func NewDockerLogs(inv *inventory.Inventory) *DockerLogs {
	return &DockerLogs{inv: inv}
}

func (t *DockerLogs) Name() string { return "docker_logs" }

func (t *DockerLogs) Description() string {
	return "Fetch recent log lines from a Docker container on a server."
}

func (t *DockerLogs) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"server": {
				"type": "string",
				"description": "Inventory name of the server"
			},
			"container": {
				"type": "string",
				"description": "Container name or ID"
			},
			"tail": {
				"type": "integer",
				"description": "Number of log lines to fetch (default 100)"
			}
		},
		"required": ["server", "container"]
	}`)
}

func (t *DockerLogs) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	serverName, err := stringField(input, "server")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	container, err := stringField(input, "container")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	tail := optionalInt(input, "tail", defaultLogTail)
	if tail <= 0 || tail > 1000 {
		tail = defaultLogTail
	}
	command := fmt.Sprintf("docker logs --tail %d %s", tail, container)
	return runOn(ctx, t.inv, serverName, command), nil
}

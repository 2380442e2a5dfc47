package tools

import (
	"context"
	"encoding/json"
)

// LocalCommand runs an allowlisted command on the bastion host itself.
type LocalCommand struct{}

func NewLocalCommand() *LocalCommand { return &LocalCommand{} }

func (t *LocalCommand) Name() string { return "run_local_command" }

func (t *LocalCommand) Description() string {
	return "Run a command on the bastion host (the local machine). Only commands " +
		"permitted by the localhost role's allowlist will execute. No shell " +
		"features: pipes, redirection and chaining are rejected."
}

func (t *LocalCommand) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to run, e.g. 'df -h' or 'systemctl status nginx'"
			}
		},
		"required": ["command"]
	}`)
}

func (t *LocalCommand) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	command, err := stringField(input, "command")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	return runLocal(ctx, command), nil
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// maxFileBytes bounds how much of a file is returned to the model.
const maxFileBytes = 100_000

// ReadFile reads a file from the bastion host or, when a server is named,
// from a remote server. Path authorization happens in the dispatch kernel
// against the role's read prefixes.
type ReadFile struct {
	inv *inventory.Inventory
}

func NewReadFile(inv *inventory.Inventory) *ReadFile {
	return &ReadFile{inv: inv}
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a text file from a server. Only paths under the role's " +
		"allowed read prefixes are permitted. Large files are truncated."
}

func (t *ReadFile) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Absolute path of the file to read"
			},
			"server": {
				"type": "string",
				"description": "Inventory name of the server; omit for the bastion host"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFile) Execute(ctx context.Context, input map[string]any) (*ToolResult, error) {
	path, err := stringField(input, "path")
	if err != nil {
		return failf(2, "%v", err), nil
	}
	serverName := optionalString(input, "server", "localhost")

	server, ok := t.inv.Server(serverName)
	if !ok {
		return failf(1, "Unknown server: %s", serverName), nil
	}
	if server.IsLocal() {
		return readLocalFile(path), nil
	}

	// head keeps the remote read inside the same size bound as local reads.
	command := fmt.Sprintf("head -c %d %s", maxFileBytes, shellquote.Join(path))
	result := runRemote(ctx, server, command)
	if result.Success() && len(result.Output) >= maxFileBytes {
		result.Output += fmt.Sprintf("\n... (truncated at %d bytes)", maxFileBytes)
	}
	return result, nil
}

func readLocalFile(path string) *ToolResult {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return failf(1, "File not found: %s", path)
		case errors.Is(err, fs.ErrPermission):
			return failf(1, "Permission denied: %s", path)
		default:
			return failf(1, "Cannot read %s: %v", path, err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return failf(1, "Cannot read %s: %v", path, err)
	}
	truncated := len(data) > maxFileBytes
	if truncated {
		data = data[:maxFileBytes]
	}
	// Replace invalid bytes rather than failing on binary content.
	output := strings.ToValidUTF8(string(data), "�")
	if truncated {
		output += fmt.Sprintf("\n... (truncated at %d bytes)", maxFileBytes)
	}
	return cleanResult(&ToolResult{Output: output})
}

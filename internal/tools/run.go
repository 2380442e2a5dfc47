package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// Exit codes mirror shell conventions so the model can reason about them.
const (
	exitNotFound      = 127
	exitNotExecutable = 126
	exitTimeout       = 124
)

// runLocal tokenizes command with POSIX quoting rules and executes it as a
// direct child process: no shell is ever interposed, so the metacharacters
// the sanitizer rejects have no second chance at interpretation here.
func runLocal(ctx context.Context, command string) *ToolResult {
	words, err := shellquote.Split(command)
	if err != nil {
		return failf(2, "Invalid command quoting: %v", err)
	}
	if len(words) == 0 {
		return failf(2, "Empty command")
	}

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &ToolResult{
		Output: stdout.String(),
		Error:  stderr.String(),
	}

	switch {
	case runErr == nil:
		// Stderr content with a zero exit still marks the result unsuccessful
		// (stderr-only failures surface to the model as errors).
		result.ExitCode = 0
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Sprintf("Command timed out: %s", words[0])
		result.ExitCode = exitTimeout
	case errors.Is(runErr, exec.ErrNotFound):
		result.Error = fmt.Sprintf("Command not found: %s", words[0])
		result.ExitCode = exitNotFound
	case isPermissionError(runErr):
		result.Error = fmt.Sprintf("Permission denied: %s", words[0])
		result.ExitCode = exitNotExecutable
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if result.Error == "" {
				result.Error = fmt.Sprintf("exit status %d", result.ExitCode)
			}
		} else {
			result.Error = runErr.Error()
			result.ExitCode = 1
		}
	}
	return cleanResult(result)
}

func isPermissionError(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		err = execErr.Err
	}
	return errors.Is(err, os.ErrPermission)
}

// runOn executes a command on the named server: locally for the bastion's
// own entry, over SSH for everything else. Used by the fixed-argv tools
// (status, docker, systemd) and by remote file reads.
func runOn(ctx context.Context, inv *inventory.Inventory, serverName, command string) *ToolResult {
	server, ok := inv.Server(serverName)
	if !ok {
		return failf(1, "Unknown server: %s", serverName)
	}
	if server.IsLocal() {
		return runLocal(ctx, command)
	}
	return runRemote(ctx, server, command)
}

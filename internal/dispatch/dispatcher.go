package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/bastion/internal/audit"
	"github.com/haasonsaas/bastion/internal/inventory"
	"github.com/haasonsaas/bastion/internal/security"
	"github.com/haasonsaas/bastion/internal/tools"
)

// Dispatcher routes one tool-use request through the security pipeline and
// executes it under the per-call timeout. It exclusively owns the registry,
// the inventory reference and the audit log handle.
type Dispatcher struct {
	registry *Registry
	inv      *inventory.Inventory
	audit    *audit.Logger
	approver security.Approver
	timeout  time.Duration
	log      *slog.Logger
}

// Options configures a Dispatcher.
type Options struct {
	Registry *Registry
	Inv      *inventory.Inventory
	Audit    *audit.Logger
	Approver security.Approver
	// Timeout bounds each tool execution (the configured command_timeout).
	Timeout time.Duration
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Approver == nil {
		opts.Approver = security.AutoDeny{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: opts.Registry,
		inv:      opts.Inv,
		audit:    opts.Audit,
		approver: opts.Approver,
		timeout:  opts.Timeout,
		log:      slog.Default().With("component", "dispatch"),
	}
}

// Schemas exposes the registry's tool declarations for the LLM request.
func (d *Dispatcher) Schemas() []ToolSchema {
	return d.registry.Schemas()
}

// Dispatch runs the six-stage pipeline for one tool-use and returns the
// result mapping. Security and execution failures come back as {"error": …}
// mappings rather than Go errors so the model can read them and react.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) map[string]any {
	// Stage 1: lookup.
	tool, ok := d.registry.Get(name)
	if !ok {
		d.log.Warn("unknown tool requested", "tool", name)
		observeDispatch(name, outcomeUnknown)
		return errMap("Unknown tool: %s", name)
	}

	// Stage 2: sanitize. Schema conformance is checked first so type
	// confusion never reaches the pattern checks.
	if err := d.registry.validateInput(name, input); err != nil {
		d.audit.ToolDenied(name, input, fmt.Sprintf("schema: %v", err))
		observeDispatch(name, outcomeDenied)
		return errMap("Input rejected: parameters do not match the tool schema: %v", err)
	}
	if err := security.Sanitize(name, input); err != nil {
		var serr *security.SanitizationError
		reason := err.Error()
		if errors.As(err, &serr) {
			reason = serr.Reason
		}
		d.audit.ToolDenied(name, input, "sanitizer: "+reason)
		observeDispatch(name, outcomeDenied)
		return errMap("Input rejected: %s", reason)
	}

	// Stage 3: record the attempt.
	d.audit.ToolAttempt(name, input)

	// Stage 4: authorize against the role allowlist.
	if denial := d.authorize(name, input); denial != "" {
		d.audit.ToolDenied(name, input, "allowlist: "+denial)
		observeDispatch(name, outcomeDenied)
		return errMap("Operation not permitted by security policy: %s", denial)
	}

	// Stage 5: approval gate for destructive patterns.
	if security.RequiresApproval(name, input, d.inv.ApprovalPatterns) {
		if !d.approver.RequestApproval(ctx, name, input) {
			d.audit.ToolDenied(name, input, "human_denied")
			observeDispatch(name, outcomeDenied)
			return errMap("Operation denied by operator")
		}
	}

	// Stage 6: execute with the per-call deadline.
	return d.execute(ctx, tool, input)
}

// authorize resolves the effective role for inputs that carry a command or
// path and runs the allowlist checks. An empty return means permitted.
func (d *Dispatcher) authorize(name string, input map[string]any) string {
	command, hasCommand := input["command"].(string)
	path, hasPath := input["path"].(string)
	if !hasCommand && !hasPath {
		return ""
	}

	server := d.effectiveServer(input)
	if server == nil {
		return "no localhost entry in inventory to resolve permissions"
	}
	perms, ok := d.inv.RoleFor(server)
	if !ok {
		return fmt.Sprintf("server %q has undefined role %q", server.Name, server.Role)
	}

	if hasCommand {
		if err := security.CheckCommand(command, server.Role, perms); err != nil {
			return err.Error()
		}
	}
	if hasPath {
		if err := security.CheckPathRead(path, server.Role, perms); err != nil {
			return err.Error()
		}
	}
	return ""
}

func (d *Dispatcher) effectiveServer(input map[string]any) *inventory.ServerEntry {
	if name, ok := input["server"].(string); ok && name != "" {
		if server, found := d.inv.Server(name); found {
			return server
		}
		return nil
	}
	if local, ok := d.inv.Local(); ok {
		return local
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, tool tools.Tool, input map[string]any) map[string]any {
	name := tool.Name()
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result *tools.ToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(execCtx, input)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			seconds := int(d.timeout.Seconds())
			d.audit.ToolTimeout(name, input, seconds)
			observeDispatch(name, outcomeTimeout)
			d.log.Warn("tool timed out", "tool", name, "timeout_s", seconds)
			return errMap("Operation timed out (%ds)", seconds)
		}
		d.audit.ToolError(name, input, "cancelled")
		observeDispatch(name, outcomeError)
		return errMap("Operation cancelled")
	case o := <-resultCh:
		observeDuration(name, time.Since(started))
		if o.err != nil {
			d.audit.ToolError(name, input, o.err.Error())
			observeDispatch(name, outcomeError)
			return errMap("Execution failed: %v", o.err)
		}
		if o.result == nil {
			d.audit.ToolError(name, input, "tool returned no result")
			observeDispatch(name, outcomeError)
			return errMap("Execution failed: tool returned no result")
		}
		resultMap := o.result.AsMap()
		if o.result.Success() {
			d.audit.ToolSuccess(name, input, resultMap)
			observeDispatch(name, outcomeSuccess)
		} else {
			d.audit.ToolError(name, input, o.result.Error)
			observeDispatch(name, outcomeError)
		}
		return resultMap
	}
}

func errMap(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

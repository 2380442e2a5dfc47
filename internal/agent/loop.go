package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haasonsaas/bastion/internal/dispatch"
)

// ErrCancelled is returned by ProcessMessage when the installed cancel
// signal fires mid-turn. The history stays well-formed: unserviced tool
// uses get synthetic cancel-marked results before the error propagates.
var ErrCancelled = errors.New("cancelled by user")

// Renderer receives user-facing output from the loop. The terminal and the
// daemon transport each provide one.
type Renderer interface {
	// Response renders final assistant text for a turn.
	Response(text string)
	// Thought renders assistant text emitted alongside tool uses.
	Thought(text string)
	ToolCall(tool string, input map[string]any)
	ToolResult(tool string, result map[string]any)
	Error(text string)
	Info(text string)
	// Prompt is written before each interactive read; non-interactive
	// renderers ignore it.
	Prompt()
}

// Kernel is the dispatch surface the loop needs.
type Kernel interface {
	Dispatch(ctx context.Context, name string, input map[string]any) map[string]any
	Schemas() []dispatch.ToolSchema
}

// Loop drives one conversation. It exclusively owns the message history;
// Messages returns a copy and RestoreMessages replaces it wholesale.
type Loop struct {
	provider Provider
	kernel   Kernel
	renderer Renderer
	system   string

	maxIterations int
	maxTokens     int

	messages []Message
	cancel   <-chan struct{}
	log      *slog.Logger
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Provider Provider
	Kernel   Kernel
	Renderer Renderer
	System   string
	// MaxToolIterations caps tool-use rounds per user turn.
	MaxToolIterations int
	// MaxConversationTokens bounds the history fed to the provider.
	MaxConversationTokens int
}

func NewLoop(opts LoopOptions) *Loop {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = 10
	}
	return &Loop{
		provider:      opts.Provider,
		kernel:        opts.Kernel,
		renderer:      opts.Renderer,
		system:        opts.System,
		maxIterations: opts.MaxToolIterations,
		maxTokens:     opts.MaxConversationTokens,
		log:           slog.Default().With("component", "agent"),
	}
}

// SetCancel installs the cancel signal checked at every loop checkpoint.
// Pass nil to clear.
func (l *Loop) SetCancel(ch <-chan struct{}) { l.cancel = ch }

// SetRenderer rebinds the output sink. The daemon does this per
// connection.
func (l *Loop) SetRenderer(r Renderer) { l.renderer = r }

// Reset drops the history.
func (l *Loop) Reset() { l.messages = nil }

// Messages returns a copy of the history.
func (l *Loop) Messages() []Message {
	return append([]Message(nil), l.messages...)
}

// RestoreMessages replaces the history (session resume).
func (l *Loop) RestoreMessages(messages []Message) {
	l.messages = append([]Message(nil), messages...)
}

func (l *Loop) cancelled() bool {
	if l.cancel == nil {
		return false
	}
	select {
	case <-l.cancel:
		return true
	default:
		return false
	}
}

// callContext derives a context that is cancelled when either the parent
// is done or the installed cancel signal fires. The provider call races
// against it; the loser is abandoned.
func (l *Loop) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, stop := context.WithCancel(ctx)
	if l.cancel != nil {
		cancel := l.cancel
		go func() {
			select {
			case <-cancel:
				stop()
			case <-callCtx.Done():
			}
		}()
	}
	return callCtx, stop
}

// ProcessMessage runs one user turn to completion: provider call, tool-use
// rounds, history mutation. Returns ErrCancelled if the cancel signal fired;
// API failures after retry are rendered and swallowed so the user can retry
// without a stuck history.
func (l *Loop) ProcessMessage(ctx context.Context, text string) error {
	l.messages = append(l.messages, UserText(text))

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		if l.cancelled() {
			return ErrCancelled
		}

		l.messages = trimHistory(l.messages, l.maxTokens, l.log)

		callCtx, stop := l.callContext(ctx)
		completion, err := l.provider.Complete(callCtx, l.system, l.messages, l.kernel.Schemas())
		stop()
		if err != nil {
			if l.cancelled() {
				return ErrCancelled
			}
			l.renderer.Error(fmt.Sprintf("API error: %v", err))
			l.log.Error("provider call failed", "error", err)
			// Pop the message that provoked the failure so a retry does
			// not double it up.
			if n := len(l.messages); n > 0 && l.messages[n-1].Role == RoleUser {
				l.messages = l.messages[:n-1]
			}
			return nil
		}

		l.messages = append(l.messages, Message{Role: RoleAssistant, Content: completion.Content})

		if completion.StopReason != "tool_use" {
			for _, block := range completion.Content {
				if block.Type == BlockText && strings.TrimSpace(block.Text) != "" {
					l.renderer.Response(block.Text)
				}
			}
			return nil
		}

		results := l.runToolUses(ctx, completion.Content)
		l.messages = append(l.messages, Message{Role: RoleUser, Content: results})
		if l.cancelled() {
			return ErrCancelled
		}
	}

	l.log.Warn("max_tool_iterations_reached", "limit", l.maxIterations)
	l.renderer.Error(fmt.Sprintf("Stopped after %d tool iterations (safety limit).", l.maxIterations))
	return nil
}

// runToolUses dispatches each tool-use block in emission order and returns
// the tool-result blocks for the next user message. Once cancelled, the
// remaining tool uses get synthetic error results instead of executing.
func (l *Loop) runToolUses(ctx context.Context, content []ContentBlock) []ContentBlock {
	var results []ContentBlock
	for _, block := range content {
		switch block.Type {
		case BlockText:
			if strings.TrimSpace(block.Text) != "" {
				l.renderer.Thought(block.Text)
			}
		case BlockToolUse:
			if l.cancelled() {
				results = append(results, ToolResultBlock(block.ID, "Operation cancelled by user.", true))
				continue
			}
			input := decodeInput(block.Input)
			l.renderer.ToolCall(block.Name, input)
			result := l.kernel.Dispatch(ctx, block.Name, input)
			l.renderer.ToolResult(block.Name, result)

			serialized, err := json.Marshal(result)
			if err != nil {
				serialized = []byte(fmt.Sprintf(`{"error": "result not serializable: %v"}`, err))
			}
			_, isError := result["error"]
			results = append(results, ToolResultBlock(block.ID, TruncateMiddle(string(serialized), maxToolResultChars), isError))
		}
	}
	return results
}

func decodeInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}

// Run drives the loop interactively from r until EOF or /quit. Slash
// commands: /quit, /exit, /reset, /tools.
func (l *Loop) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.renderer.Prompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/reset":
			l.Reset()
			l.renderer.Info("Conversation reset.")
			continue
		case "/tools":
			var names []string
			for _, s := range l.kernel.Schemas() {
				names = append(names, s.Name)
			}
			l.renderer.Info("Available tools: " + strings.Join(names, ", "))
			continue
		}
		if err := l.ProcessMessage(ctx, line); err != nil {
			if errors.Is(err, ErrCancelled) {
				l.renderer.Info("Operation cancelled.")
				continue
			}
			return err
		}
	}
}

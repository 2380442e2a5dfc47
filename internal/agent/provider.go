package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/bastion/internal/dispatch"
)

// Completion is one assistant reply, detached from SDK object identity so
// the history serializes cleanly.
type Completion struct {
	Content    []ContentBlock
	StopReason string
}

// Provider produces assistant completions for a conversation.
type Provider interface {
	Complete(ctx context.Context, system string, messages []Message, tools []dispatch.ToolSchema) (*Completion, error)
}

// Notifier receives user-visible provider notices (rate-limit waits).
type Notifier func(text string)

// AnthropicProvider calls the Anthropic Messages API with rate-limit retry.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	notify    Notifier
	log       *slog.Logger
}

const maxRateLimitRetries = 3

// NewAnthropicProvider builds a provider for the given model. The API key
// comes from the environment (ANTHROPIC_API_KEY) unless overridden.
func NewAnthropicProvider(apiKey, model string, maxTokens int, notify Notifier) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		notify:    notify,
		log:       slog.Default().With("component", "provider"),
	}
}

// Complete sends the conversation and returns the assistant reply. Rate
// limits are retried with exponential backoff; the context cancels both the
// in-flight request and any backoff sleep.
func (p *AnthropicProvider) Complete(ctx context.Context, system string, messages []Message, tools []dispatch.ToolSchema) (*Completion, error) {
	params, err := p.buildParams(system, messages, tools)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		msg, err := p.client.Messages.New(ctx, params)
		if err == nil {
			return translateMessage(msg), nil
		}
		lastErr = err
		if !isRateLimited(err) || attempt == maxRateLimitRetries {
			return nil, err
		}
		delay := time.Duration(2*(1<<attempt)) * time.Second
		p.log.Warn("rate_limited", "attempt", attempt+1, "delay", delay)
		p.notify(fmt.Sprintf("Rate limited, retrying in %s...", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (p *AnthropicProvider) buildParams(system string, messages []Message, tools []dispatch.ToolSchema) (anthropic.MessageNewParams, error) {
	encoded := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			default:
				return anthropic.MessageNewParams{}, fmt.Errorf("unsupported content block type %q", b.Type)
			}
		}
		switch m.Role {
		case RoleUser:
			encoded = append(encoded, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			encoded = append(encoded, anthropic.NewAssistantMessage(blocks...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role %q", m.Role)
		}
	}

	declared := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema, err := toolInputSchema(t.InputSchema)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		u := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			u.OfTool.Description = anthropic.String(t.Description)
		}
		declared = append(declared, u)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  encoded,
		Tools:     declared,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

func toolInputSchema(raw json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	var decoded struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	return anthropic.ToolInputSchemaParam{
		Properties: decoded.Properties,
		Required:   decoded.Required,
	}, nil
}

func translateMessage(msg *anthropic.Message) *Completion {
	c := &Completion{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			c.Content = append(c.Content, ContentBlock{Type: BlockText, Text: block.Text})
		case "tool_use":
			c.Content = append(c.Content, ContentBlock{
				Type:  BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return c
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded")
}

// Package agent holds the conversation loop: message history, the LLM
// provider wrapper, the token-budget trimmer and the per-turn tool-use
// iteration. The loop owns the history exclusively; everything else reads
// copies.
package agent

import "encoding/json"

// Block types used in message content.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a message's content. Exactly one shape is
// populated depending on Type: text blocks carry Text, tool-use blocks carry
// ID/Name/Input, tool-result blocks carry ToolUseID/Content/IsError.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Message is one history entry. Roles strictly alternate user/assistant;
// a user message is either plain text (one text block) or the tool results
// answering the preceding assistant's tool uses.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserText builds an ordinary user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds a reply to one tool-use block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// IsUserText reports whether the message is a plain user turn (as opposed
// to a tool-result carrier). Used for the session turn count and preview.
func (m Message) IsUserText() bool {
	if m.Role != RoleUser {
		return false
	}
	for _, block := range m.Content {
		if block.Type == BlockToolResult {
			return false
		}
	}
	return true
}

// FirstText returns the first text block's content, or "".
func (m Message) FirstText() string {
	for _, block := range m.Content {
		if block.Type == BlockText {
			return block.Text
		}
	}
	return ""
}

// contentChars counts the characters the message contributes to the token
// estimate: text, tool inputs and tool-result payloads all count.
func (m Message) contentChars() int {
	n := 0
	for _, block := range m.Content {
		n += len(block.Text) + len(block.Input) + len(block.Content)
	}
	return n
}

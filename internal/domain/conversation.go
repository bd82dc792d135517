package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BlockType enumerates the content segments a turn may carry.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content segment of a turn. Tool-use blocks carry ID, Name and
// Input; tool-result blocks carry ToolUseID, Content and IsError.
type Block struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock builds a text segment.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolResultBlock builds a result segment correlated to a tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Turn is one conversation message. Content is either a plain string or a
// list of blocks on the wire.
type Turn struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

// UserText builds a user turn with a single text block.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

// Text joins the text blocks of the turn.
func (t Turn) Text() string {
	return JoinText(t.Content)
}

// UnmarshalJSON accepts content as a string or an array of blocks.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Role = raw.Role
	t.Content = nil

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	switch content[0] {
	case '"':
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return err
		}
		t.Content = []Block{TextBlock(s)}
	case '[':
		if err := json.Unmarshal(content, &t.Content); err != nil {
			return fmt.Errorf("decode content blocks: %w", err)
		}
	default:
		return errors.New("content must be a string or an array of blocks")
	}
	return nil
}

// JoinText concatenates text blocks with newlines.
func JoinText(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Stop reasons reported by the model provider.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Usage is the token accounting of one model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// CompletionRequest is the provider-agnostic model invocation.
type CompletionRequest struct {
	Model     string
	System    string
	MaxTokens int64
	Tools     []ToolDescriptor
	Messages  []Turn
}

// Completion is the provider-agnostic model response.
type Completion struct {
	ID         string
	Model      string
	StopReason string
	Content    []Block
	Usage      Usage
}

// ToolUses returns the tool invocation segments in response order.
func (c Completion) ToolUses() []Block {
	var out []Block
	for _, b := range c.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Text joins the text segments of the response.
func (c Completion) Text() string {
	return JoinText(c.Content)
}
